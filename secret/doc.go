// Package secret resolves secret references in configuration values.
//
// A value is first expanded strictly against the environment (see
// ExpandEnvStrict), then any "secretref:<provider>:<ref>" it contains is
// replaced by what the named Provider returns:
//
//	AUTHGATE_CLIENT_SECRET=secretref:file:/run/secrets/authgate_client_secret
//	AUTHGATE_CLIENT_SECRET=${AZURE_CLIENT_SECRET}
//
// The "file" provider is built in and registered in DefaultRegistry.
package secret
