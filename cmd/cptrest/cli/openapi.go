package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cptrest/cptrest/internal/handler"
	"github.com/cptrest/cptrest/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		outputFile string
		format     string
		publicURL  string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI document",
		Long: `Generate the OpenAPI 3 document for the current route plan: the namespace,
every active post type and, when enabled, the relationship routes.`,
		Example: `  cptrest openapi
  cptrest openapi --format yaml -o openapi.yaml
  cptrest openapi --public-url https://api.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (use json or yaml)", format)
			}

			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if publicURL == "" {
				publicURL = a.cfg.Server.PublicURL
			}
			in, err := handler.DocumentInput(cmd.Context(), a.store, a.catalog, publicURL)
			if err != nil {
				return err
			}
			data, err := encodeDocument(openapi.Generate(in), format)
			if err != nil {
				return err
			}

			if outputFile != "" {
				if err := os.WriteFile(outputFile, data, 0644); err != nil {
					return fmt.Errorf("write %s: %w", outputFile, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outputFile)
				return nil
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to a file instead of stdout")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")
	cmd.Flags().StringVar(&publicURL, "public-url", "", "Server URL to advertise (default: server.public_url)")

	return cmd
}

// encodeDocument renders doc as indented JSON or as YAML. YAML goes through
// the JSON form so extension and reference fields keep their wire names.
func encodeDocument(doc any, format string) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if format == "json" {
		return append(data, '\n'), nil
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return yaml.Marshal(generic)
}
