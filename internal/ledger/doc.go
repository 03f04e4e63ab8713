// Package ledger implements the transition engine of the confidential commitment token.
//
// Overview:
//   - Balances, allowances and the supply are stored only as commitments (see package commitment)
//   - Every state-mutating call is a tagged Operation applied through Engine.Apply
//   - An operation passes four stages: Requested, Authorized, Validated, Committed
//   - Validation consumes the subject account's nonce and checks an algebraic conservation
//     identity; nothing is written unless every gate passed
//   - VerifySupplyInvariant audits that the product of all account commitments equals the
//     recorded supply commitment
//
// State lives in an injected Store. The engine assumes the host runs one operation at a
// time; it holds no locks of its own.
package ledger
