// Package stealth implements dual-key stealth addresses (DKSAP) on ed25519.
//
// A recipient publishes a meta-address holding a scan public key S = s·G and
// a spend public key B = b·G. A payer samples an ephemeral scalar r, computes
// the shared point r·S, derives h = H(r·S) mod L and pays to P = B + h·G,
// publishing R = r·G alongside. The recipient recomputes s·R = r·S, checks
// B + h·G against P and recovers the spending scalar b + h.
//
// Holding only the scan secret (a ViewKey) is enough to detect payments but
// not to spend them.
package stealth
