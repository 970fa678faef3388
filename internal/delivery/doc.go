// Package delivery defines the vocabulary shared by the build-time planner
// and the runtime resolver: delivery types, reserved unit names, naming rules
// and the error taxonomy.
//
// A delivery unit is a named, independently downloadable package of content
// bundles. Exactly one unit, InstallTimeAggregate, is guaranteed to be
// present on the device immediately after installation. Every other unit is
// fetched by the platform either right after install (FastFollow) or when
// the application asks for it (OnDemand).
//
// # Error taxonomy
//
//   - ConfigurationError: invalid unit name, unit count over limit. Reported at
//     build time.
//   - ManifestError: malformed or missing manifest at runtime. Recovered by
//     disabling location redirection.
//   - DeliveryError: download failed, unit unavailable, permission denied.
//     Surfaced to every waiter of the unit, never retried automatically.
//   - ConsistencyError: a recorded local path is missing on disk. Recovered
//     by reverting the unit to unrequested.
package delivery
