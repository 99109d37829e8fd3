// Package federation federates logins from a government digital identity
// provider (Llave MX) into a local account directory.
//
// Login flow:
//   - Flow.BeginLogin stores a one-time state (and PKCE verifier when the
//     provider profile requires it) in a SessionStore and returns the
//     provider authorization URL.
//   - Flow.CompleteLogin pops the stored secrets, checks the callback state,
//     exchanges the code, fetches and validates the user record, maps it to
//     FederatedClaims and hands the claims to the IdentityResolver.
//   - Flow.Logout revokes the provider session best-effort.
//
// Identity resolution:
//   - IdentityResolver runs an ordered list of ResolutionStep values inside a
//     single RepositoryManager transaction. The default order is existing
//     link, generic national ID guard, national ID, email.
//   - A national ID shared by several active accounts never binds. The
//     attempt is recorded as a DuplicateCase and the decision is Blocked.
//   - The generic national ID used for foreigners never participates in
//     auto-binding.
//
// Provisioning:
//   - A NoMatch login can carry a signed signup ticket. Provisioner turns the
//     ticket claims into an active account linked to the provider identity.
//
// Activity sinks:
//   - ActivitySink receives one event per finished login attempt (bound,
//     blocked, no match or failed). Sinks run best-effort.
package federation
