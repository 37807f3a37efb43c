package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var (
	cfgFile    string
	serverAddr string
	grpcAddr   string
	timeout    time.Duration
	outputJSON bool
	prettyJSON bool

	// out is where commands print; tests swap it.
	out io.Writer = os.Stdout
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fieldctl",
	Short: "fieldsync CLI - Inspect and drive the offline action queue",
	Long: `fieldsync CLI (fieldctl) is a command line tool for the fieldsync agent.

You can use it to inspect and clear the offline queue, trigger a replay pass,
flip the agent's connectivity state, and send requests through the agent.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fieldctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:8080", "agent HTTP address (host:port)")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc", "localhost:50051", "agent gRPC address (host:port)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&prettyJSON, "pretty", false, "use jq for pretty JSON formatting (requires jq)")

	// Bind flags to viper
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("grpc", rootCmd.PersistentFlags().Lookup("grpc"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".fieldctl")
	}

	viper.SetEnvPrefix("FIELDCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Override global variables with config values if flags weren't explicitly set
	if !rootCmd.PersistentFlags().Changed("server") {
		if s := viper.GetString("server"); s != "" {
			serverAddr = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("grpc") {
		if s := viper.GetString("grpc"); s != "" {
			grpcAddr = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
	if !rootCmd.PersistentFlags().Changed("pretty") {
		prettyJSON = viper.GetBool("pretty")
	}
}

// baseURL turns the server flag into an http URL.
func baseURL() string {
	if strings.HasPrefix(serverAddr, "http://") || strings.HasPrefix(serverAddr, "https://") {
		return strings.TrimRight(serverAddr, "/")
	}
	return "http://" + strings.TrimRight(serverAddr, "/")
}

// makeHTTPRequest makes an HTTP request to the agent API
func makeHTTPRequest(method, path string, body any) (*http.Response, error) {
	client := &http.Client{Timeout: timeout}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, baseURL()+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return client.Do(req)
}

// doJSON sends the request and decodes a JSON reply into v. Statuses not in
// ok are returned as errors carrying the agent's error message.
func doJSON(method, path string, body, v any, ok ...int) (int, error) {
	resp, err := makeHTTPRequest(method, path, body)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if len(ok) == 0 {
		ok = []int{http.StatusOK}
	}
	for _, code := range ok {
		if resp.StatusCode == code {
			if v == nil || resp.StatusCode == http.StatusNoContent {
				return resp.StatusCode, nil
			}
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
			}
			return resp.StatusCode, nil
		}
	}

	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return resp.StatusCode, fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
	}
	return resp.StatusCode, fmt.Errorf("HTTP error: %s", resp.Status)
}

// checkJQAvailable checks if jq is available in PATH
func checkJQAvailable() bool {
	_, err := exec.LookPath("jq")
	return err == nil
}

// formatWithJQ formats JSON using jq for pretty printing
func formatWithJQ(jsonData []byte) (string, error) {
	if !checkJQAvailable() {
		return "", fmt.Errorf("jq not found in PATH")
	}

	cmd := exec.Command("jq", ".")
	cmd.Stdin = bytes.NewReader(jsonData)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("jq formatting failed: %s", stderr.String())
	}

	return stdout.String(), nil
}

func marshalOutput(v any, multiline bool) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		opts := protojson.MarshalOptions{Multiline: multiline, Indent: "  "}
		return opts.Marshal(msg)
	}
	if multiline {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// printOutput prints v as JSON when --json is set, otherwise with %+v
func printOutput(v any) {
	if !outputJSON {
		fmt.Fprintf(out, "%+v\n", v)
		return
	}

	// compact when jq does the formatting
	jsonData, err := marshalOutput(v, !prettyJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
		return
	}
	if !prettyJSON {
		fmt.Fprintln(out, string(jsonData))
		return
	}

	formatted, jqErr := formatWithJQ(jsonData)
	if jqErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, falling back to standard formatting\n", jqErr)
		jsonData, _ = marshalOutput(v, true)
		fmt.Fprintln(out, string(jsonData))
		return
	}
	fmt.Fprint(out, formatted)
}

// parseHeaders turns "Key: Value" flags into a header map
func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q (expected \"Key: Value\")", h)
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers, nil
}
