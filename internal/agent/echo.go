package agent

import "context"

type echoAgent struct{}

func newEchoAgent(Deps) (Agent, error) {
	return &echoAgent{}, nil
}

func (a *echoAgent) Execute(_ context.Context, input string) (string, error) {
	return input, nil
}

func (a *echoAgent) Close(context.Context) error {
	return nil
}
