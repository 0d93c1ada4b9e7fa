package plugins

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
)

// ExternalManifest declares an out-of-process plugin that speaks the
// stdin/stdout JSON protocol of spec.md §4.6.
type ExternalManifest struct {
	PluginName  string
	Executable  string
	Args        []string
	Description string
	Sig         Signature
}

type externalRequest struct {
	Version string              `json:"version"`
	Context externalReqContext  `json:"context"`
	Call    externalReqCall     `json:"call"`
}

type externalReqContext struct {
	Response any                 `json:"response"`
	Headers  map[string][]string `json:"headers"`
	Trailers map[string][]string `json:"trailers"`
}

type externalReqCall struct {
	Function  string   `json:"function"`
	Arguments []string `json:"arguments"`
}

type externalResponse struct {
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

// externalPlugin invokes a subprocess once per call, per spec.md §4.6.
type externalPlugin struct {
	manifest ExternalManifest
	runCmd   func(name string, args []string, stdin []byte) ([]byte, error)
}

// NewExternalPlugin wraps a manifest into a Plugin that runs the declared
// executable, feeding it the request protocol on stdin and parsing the
// response protocol from stdout.
func NewExternalPlugin(m ExternalManifest) Plugin {
	return &externalPlugin{manifest: m, runCmd: runSubprocess}
}

func runSubprocess(name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("external plugin %q: %w", name, err)
	}
	return stdout.Bytes(), nil
}

func (p *externalPlugin) Name() string        { return p.manifest.PluginName }
func (p *externalPlugin) Description() string { return p.manifest.Description }
func (p *externalPlugin) Signature() Signature { return p.manifest.Sig }

func (p *externalPlugin) Execute(args []string, ctx *Context) (Result, error) {
	req := externalRequest{
		Version: "1",
		Context: externalReqContext{Response: ctx.Response, Headers: ctx.Headers, Trailers: ctx.Trailers},
		Call:    externalReqCall{Function: p.manifest.PluginName, Arguments: args},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("external plugin %q: marshal request: %w", p.manifest.PluginName, err)
	}
	out, err := p.runCmd(p.manifest.Executable, p.manifest.Args, payload)
	if err != nil {
		return Result{}, err
	}
	var resp externalResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return Result{}, fmt.Errorf("external plugin %q: malformed response: %w", p.manifest.PluginName, err)
	}
	if resp.Error != "" {
		return Result{}, fmt.Errorf("external plugin %q: %s", p.manifest.PluginName, resp.Error)
	}
	if b, ok := resp.Result.(bool); ok {
		return Result{IsAssertion: true, Pass: b}, nil
	}
	return Result{Value: resp.Result}, nil
}
