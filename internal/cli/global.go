package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/disputeflow/verifier/internal/client"
)

type GlobalOptions struct {
	ServerUrl string
	ApiKey    string
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		ServerUrl: "http://localhost:8080",
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ServerUrl, "server-url", "u", o.ServerUrl, "Address of the verifier service")
	fs.StringVarP(&o.ApiKey, "api-key", "k", o.ApiKey, "Api key sent with every request")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	return nil
}

func (o *GlobalOptions) Client() *client.Client {
	return client.New(o.ServerUrl, client.WithApiKey(o.ApiKey))
}
