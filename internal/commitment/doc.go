// Package commitment implements the multiplicative commitment primitive used by the
// confidential commitment token.
//
// Overview:
//   - A commitment hides a textual value and a blinding factor as C = G^H(value) * H^blinding mod P
//   - H is a fixed, versioned hash from the value's text to an exponent in [0, P-1)
//   - The identity element 1 is the commitment of an empty balance
//   - Products of commitments combine balances; inverses remove them
//
// Security Model:
//   - Binding rests on the unknown discrete-log relation between G and H
//   - Hiding requires blindings drawn uniformly from the full exponent range
//   - The hash is not homomorphic, so products only prove that claimed exponents balance;
//     there is no range proof and a client can commit to semantically negative amounts
//
// The same code runs inside the ledger and inside client wallets, so both sides always
// agree on every commitment they compute.
package commitment
