package main

import (
	"context"
	"os"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/spf13/cobra"

	"github.com/gripmock/grpctestify/internal/applog"
	"github.com/gripmock/grpctestify/internal/lspserver"
)

func newLSPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lsp",
		Short: "Run the Language Server over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return lspAction()
		},
	}
}

// stdrwc adapts stdin/stdout to the io.ReadWriteCloser jsonrpc2 streams
// over, the standard wiring for a stdio-transport language server.
type stdrwc struct{}

func (stdrwc) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdrwc) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdrwc) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}

func lspAction() error {
	logger, err := applog.New(false)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	handler := lspserver.NewHandler(logger, "GRPCTESTIFY_ADDRESS")
	ctx := context.Background()
	conn := jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(stdrwc{}, jsonrpc2.VSCodeObjectCodec{}), handler)
	<-conn.DisconnectNotify()
	return nil
}
