package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kroma-labs/mimic/httpclient"
)

var requestCmd = &cobra.Command{
	Use:   "request METHOD URL [flags]",
	Short: "Send one request as a browser would",
	Long: `Send a request with the selected browser fingerprint and print the response
body to stdout. Headers given with -H are merged with the browser defaults;
with --ordered they are sent first, in exactly the given order.

Examples:
  mimic request GET https://httpbin.org/headers --impersonate firefox
  mimic request POST https://httpbin.org/post --json '{"name":"mimic"}'
  mimic request PUT https://httpbin.org/put --file upload=./report.pdf -d note=weekly`,
	Args: cobra.ExactArgs(2),
	RunE: runRequest,
}

func init() {
	rootCmd.AddCommand(requestCmd)

	f := requestCmd.Flags()
	f.StringArrayP("header", "H", nil, "request header 'Name: value' (repeatable)")
	f.Bool("ordered", false, "send -H headers in the given order")
	f.StringArray("cookie", nil, "cookie 'name=value' (repeatable)")
	f.StringArrayP("data", "d", nil, "form field 'key=value' (repeatable)")
	f.String("json", "", "JSON body")
	f.StringArray("file", nil, "multipart file 'field=path' (repeatable)")
	f.StringP("impersonate", "i", "", "browser to impersonate (see 'mimic targets')")
	f.String("os", "", "operating system to claim: android, ios, linux, macos, windows")
	f.String("proxy", "", "proxy URL (http, https, socks4, socks5)")
	f.Duration("timeout", 0, "request timeout")
	f.Bool("split-cookies", false, "send one cookie header per cookie")
	f.BoolP("insecure", "k", false, "skip TLS certificate verification")
	f.Bool("http1", false, "force HTTP/1.1")
	f.Bool("http2", false, "force HTTP/2")
	f.Bool("no-redirects", false, "do not follow redirects")
	f.Bool("curl", false, "print the equivalent cURL command to stderr")
	f.Bool("include", false, "print the status line and response headers")
	f.Int("count", 1, "send the request this many times")
	f.Duration("interval", time.Second, "pause between repeated requests")
}

func runRequest(cmd *cobra.Command, args []string) error {
	v, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(v)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := clientOptions(v, logger)

	if addr := v.GetString("metrics-addr"); addr != "" {
		ms, err := newMetricsServer(addr, logger)
		if err != nil {
			return err
		}
		ms.start()
		defer func() {
			if err := ms.shutdown(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("metrics server shutdown")
			}
		}()
		opts = append(opts, httpclient.WithMeterProvider(ms.provider))
	}

	client, err := httpclient.New(opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	method, url := args[0], args[1]
	count := v.GetInt("count")
	for i := 0; i < count; i++ {
		if i > 0 {
			select {
			case <-time.After(v.GetDuration("interval")):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		rb, err := buildRequest(client.Request(url), v)
		if err != nil {
			return err
		}
		if err := send(ctx, cmd, rb, method, v); err != nil {
			return err
		}
	}
	return nil
}

// clientOptions translates flags and config into client options.
func clientOptions(v *viper.Viper, logger zerolog.Logger) []httpclient.Option {
	opts := []httpclient.Option{
		httpclient.WithLogger(logger),
		httpclient.WithDebug(v.GetBool("verbose")),
		httpclient.WithGenerateCurl(v.GetBool("curl")),
		httpclient.WithServiceName("mimic"),
		httpclient.WithImpersonate(v.GetString("impersonate")),
		httpclient.WithImpersonateOS(v.GetString("os")),
		httpclient.WithTimeout(v.GetDuration("timeout")),
		httpclient.WithSplitCookies(v.GetBool("split-cookies")),
		httpclient.WithVerify(!v.GetBool("insecure")),
		httpclient.WithHTTP1Only(v.GetBool("http1")),
		httpclient.WithHTTP2Only(v.GetBool("http2")),
		httpclient.WithFollowRedirects(!v.GetBool("no-redirects")),
	}
	if proxy := v.GetString("proxy"); proxy != "" {
		opts = append(opts, httpclient.WithProxy(proxy))
	}
	return opts
}

// buildRequest applies headers, cookies and body flags to rb.
func buildRequest(rb *httpclient.RequestBuilder, v *viper.Viper) (*httpclient.RequestBuilder, error) {
	headers, err := parseHeaders(v.GetStringSlice("header"))
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		if v.GetBool("ordered") {
			rb.OrderedHeaders(headers)
		} else {
			rb.Headers(headers.Map())
		}
	}

	if raw := v.GetStringSlice("cookie"); len(raw) > 0 {
		cookies, err := parsePairs("cookie", raw)
		if err != nil {
			return nil, err
		}
		rb.Cookies(cookies)
	}

	if raw := v.GetStringSlice("data"); len(raw) > 0 {
		data, err := parsePairs("data", raw)
		if err != nil {
			return nil, err
		}
		rb.Data(data)
	}

	if raw := v.GetString("json"); raw != "" {
		var body any
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return nil, fmt.Errorf("invalid --json: %w", err)
		}
		rb.JSON(body)
	}

	if raw := v.GetStringSlice("file"); len(raw) > 0 {
		files, err := parsePairs("file", raw)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			rb.File(f.Key, f.Value)
		}
	}

	return rb, nil
}

// send executes rb and writes the response to the command's output.
func send(ctx context.Context, cmd *cobra.Command, rb *httpclient.RequestBuilder, method string, v *viper.Viper) error {
	resp, err := rb.Send(ctx, method)
	if err != nil {
		return err
	}
	defer resp.Response.Body.Close()

	if curl := resp.CurlCommand(); curl != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), curl)
	}

	out := cmd.OutOrStdout()
	if v.GetBool("include") {
		writeHead(out, resp)
	}

	body, err := resp.Body()
	if err != nil {
		return err
	}
	if _, err := out.Write(body); err != nil {
		return err
	}
	if len(body) > 0 && body[len(body)-1] != '\n' {
		fmt.Fprintln(out)
	}
	return nil
}

func writeHead(w io.Writer, resp *httpclient.Response) {
	fmt.Fprintf(w, "%s %s\n", resp.Proto, resp.Status)
	names := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		for _, val := range resp.Header[k] {
			fmt.Fprintf(w, "%s: %s\n", k, val)
		}
	}
	fmt.Fprintln(w)
}

// parseHeaders reads "Name: value" lines, keeping their order.
func parseHeaders(raw []string) (httpclient.Headers, error) {
	var h httpclient.Headers
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q: want 'Name: value'", line)
		}
		h.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h, nil
}

// parsePairs reads "key=value" arguments, keeping their order.
func parsePairs(flag string, raw []string) (httpclient.Pairs, error) {
	var p httpclient.Pairs
	for _, arg := range raw {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --%s %q: want 'key=value'", flag, arg)
		}
		p = append(p, httpclient.Pair{Key: key, Value: value})
	}
	return p, nil
}
