/*
Package security manages the node certificate that authenticates NA's
gRPC connection back to a control plane: on-disk storage under
~/.libra/certs/<node-type>-<node-id>, rotation-due checks against a
30-day-to-expiry threshold, and ClientTLSConfig, which assembles a
client certificate plus CA pool into the mutual-TLS config NA hands to
its gRPC transport credentials.

Certificates themselves are issued out of band (by whatever control
plane NA is pointed at); this package only loads, stores, and inspects
them.
*/
package security
