// Package agent provides the conversational agents bound to sessions.
// Agent kinds form a closed set dispatched through a constructor table;
// adding a kind means adding a tag and a constructor here.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/webrelay/webrelay/internal/common/config"
)

// Browser is the slice of the bridge an agent needs to drive the
// browser-side process.
type Browser interface {
	Execute(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error)
	IsConnected() bool
}

// Agent executes one conversational turn at a time on behalf of a
// session. Implementations are not safe for concurrent Execute calls;
// the session manager guarantees one in-flight turn per session.
type Agent interface {
	// Execute runs one message turn and returns the agent's reply.
	Execute(ctx context.Context, input string) (string, error)

	// Close releases any resources held by the agent.
	Close(ctx context.Context) error
}

// Kind tags an agent implementation.
type Kind string

const (
	// KindChat is the LLM-backed agent with browser tools.
	KindChat Kind = "chat"
	// KindEcho replies with its input verbatim; used in tests and as a
	// connectivity probe.
	KindEcho Kind = "echo"
)

// Deps carries the collaborators an agent constructor may need.
type Deps struct {
	Browser Browser
	OpenAI  config.OpenAIConfig
	Logger  *zap.Logger
}

type constructor func(deps Deps) (Agent, error)

var constructors = map[Kind]constructor{
	KindChat: newChatAgent,
	KindEcho: newEchoAgent,
}

// New builds an agent of the given kind.
func New(kind Kind, deps Deps) (Agent, error) {
	ctor, ok := constructors[kind]
	if !ok {
		return nil, fmt.Errorf("unknown agent kind: %q", kind)
	}
	return ctor(deps)
}
