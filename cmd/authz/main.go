// Authz is a transaction authorization service. It evaluates payment
// transactions against declarative rules, spend limits and multisig
// policies, and records every decision in a hash-chained audit log.
//
// Usage:
//
//	# Start the HTTP API with a configuration file
//	authz run --config /etc/authz/config.yaml
//
//	# Evaluate a transaction against a rule bundle without a server
//	authz evaluate --rules rules.yaml --tx tx.json
//
//	# Validate rule bundles
//	authz lint --dir rules/
//
//	# Inspect spend usage and the audit log of a deployment
//	authz usage --scope daily
//	authz audit verify
package main

import "os"

func main() {
	os.Exit(Execute())
}
