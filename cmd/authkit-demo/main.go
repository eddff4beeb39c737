// Command authkit-demo serves a minimal passwordless login flow.
//
// Endpoints:
//
//	POST /auth/nonce  JSON {"key":"alice@example.com"}; the nonce is logged at debug level
//	POST /auth/token  JSON {"nonce":"..."}; returns a bearer token
//	GET  /me          requires Authorization: Bearer <token>
//	GET  /healthz
//	GET  /metrics     Prometheus text format
//
// Run "authkit-demo serve". "authkit-demo keygen" prints signing material.
//
// Configuration comes from AUTHKIT_* variables and an optional .env file. With
// AUTHKIT_CACHE_BACKEND=redis and no AUTHKIT_REDIS_ADDR an in-process
// miniredis is started. Without AUTHKIT_JWT_SECRET a random secret is
// generated, so tokens do not survive a restart.
//
// The failed-redemption limit keys on the connection's remote address. Pass
// --trust-proxy only behind a proxy that sets X-Forwarded-For itself.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "authkit-demo",
		Short:        "Passwordless login demo built on authkit",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newKeygenCmd())
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
