package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/spf13/cobra"
	reflectpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"

	"github.com/gripmock/grpctestify/internal/grpcdial"
)

func newListCmd() *cobra.Command {
	var tlsEnabled, insecureSkipVerify bool
	var cacert, cert, key string
	cmd := &cobra.Command{
		Use:   "list <address> [service]",
		Short: "List services (or methods of a service) exposed via gRPC reflection",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := args[0]
			var service string
			if len(args) == 2 {
				service = args[1]
			}
			return listAction(cmd, address, service, grpcdial.TLSConfig{
				Enabled:            tlsEnabled || insecureSkipVerify || cacert != "" || cert != "",
				InsecureSkipVerify: insecureSkipVerify,
				CACert:             cacert,
				ClientCert:         cert,
				ClientKey:          key,
			})
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&tlsEnabled, "tls", false, "connect over TLS")
	flags.BoolVar(&insecureSkipVerify, "insecure", false, "skip server certificate verification")
	flags.StringVar(&cacert, "cacert", "", "trusted root certificates file")
	flags.StringVar(&cert, "cert", "", "client certificate file")
	flags.StringVar(&key, "key", "", "client private key file")
	return cmd
}

func listAction(cmd *cobra.Command, address, service string, tls grpcdial.TLSConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := grpcdial.Dial(ctx, grpcdial.DialOptions{Address: address, TLS: tls, ConnectTimeout: 10 * time.Second})
	if err != nil {
		return err
	}
	defer cc.Close()

	refClient := grpcreflect.NewClient(ctx, reflectpb.NewServerReflectionClient(cc))
	defer refClient.Reset()
	src := grpcdial.FromServer(ctx, refClient)

	out := cmd.OutOrStdout()
	if service == "" {
		svcs, err := src.ListServices()
		if err != nil {
			return err
		}
		for _, s := range svcs {
			fmt.Fprintln(out, s)
		}
		return nil
	}

	sym, err := src.FindSymbol(service)
	if err != nil {
		return err
	}
	sd, ok := sym.(*desc.ServiceDescriptor)
	if !ok {
		return fmt.Errorf("%s is not a service", service)
	}
	for _, m := range sd.GetMethods() {
		fmt.Fprintf(out, "%s.%s\n", service, m.GetName())
	}
	return nil
}
