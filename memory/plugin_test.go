package memory_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-goodmem/core"
	"github.com/becomeliminal/nim-goodmem/memory"
)

func newPlugin(t *testing.T, b memory.Backend, cfg memory.Config) *memory.Plugin {
	t.Helper()
	clearEnv(t)
	if cfg.EmbedderAPIKey == "" {
		cfg.EmbedderAPIKey = "google-key"
	}
	p, err := memory.NewPlugin(b, cfg, memory.WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func invocation(user string) *core.Invocation {
	return &core.Invocation{AppName: "app", UserID: user, SessionID: "s-" + user}
}

func TestPlugin_GoldfishAcrossInstances(t *testing.T) {
	ctx := context.Background()
	b, store := newSpy()

	writer := newPlugin(t, b, memory.Config{})
	res, err := writer.Resolve(ctx, invocation("u1"))
	require.NoError(t, err)
	assert.Equal(t, "adk_chat_u1", res.SpaceName)

	require.NoError(t, writer.OnUserMessage(ctx, invocation("u1"), &core.Content{Role: core.RoleUser, Text: "I am a goldfish"}))
	writer.Wait()

	reader := newPlugin(t, b, memory.Config{})
	req := &core.ModelRequest{Prompt: "Do I live in water?"}
	require.NoError(t, reader.BeforeModel(ctx, invocation("u1"), req))

	assert.True(t, strings.HasPrefix(req.Prompt, "BEGIN MEMORY"))
	assert.Contains(t, req.Prompt, "User: I am a goldfish")
	assert.Contains(t, req.Prompt, "role: user")
	assert.True(t, strings.HasSuffix(req.Prompt, "Do I live in water?"))

	spaces, err := store.ListSpaces(ctx, "adk_chat_")
	require.NoError(t, err)
	assert.Len(t, spaces, 1)
}

func TestPlugin_AfterModelStoresAgentText(t *testing.T) {
	ctx := context.Background()
	b, store := newSpy()
	p := newPlugin(t, b, memory.Config{})
	inv := invocation("u1")

	require.NoError(t, p.AfterModel(ctx, inv, &core.Content{Role: core.RoleAgent, Text: "This is the LLM response"}))
	require.NoError(t, p.AfterModel(ctx, inv, &core.Content{Role: core.RoleAgent, Text: "  "}))
	p.Wait()
	assert.Equal(t, 1, b.Calls("InsertMemory"))

	res, err := p.Resolve(ctx, inv)
	require.NoError(t, err)
	frags, err := store.Retrieve(ctx, memory.RetrieveRequest{SpaceIDs: []string{res.SpaceID}, Query: "response", TopK: 5})
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "LLM: This is the LLM response", frags[0].Text)

	recs, err := store.GetMemories(ctx, []string{frags[0].MemoryID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "LLM", recs[0].Metadata["role"])
	assert.Equal(t, "s-u1", recs[0].Metadata["session_id"])
}

func TestPlugin_AttachmentsStoredSeparately(t *testing.T) {
	ctx := context.Background()
	b, _ := newSpy()
	p := newPlugin(t, b, memory.Config{})

	require.NoError(t, p.OnUserMessage(ctx, invocation("u1"), &core.Content{
		Role: core.RoleUser,
		Text: "here is my report",
		Attachments: []core.Attachment{
			{Name: "report.pdf", MIMEType: "application/pdf", Data: []byte("%PDF-1.4")},
			{Name: "clip.mp4", MIMEType: "video/mp4", Data: []byte{0}},
		},
	}))
	p.Wait()
	assert.Equal(t, 2, b.Calls("InsertMemory"))
}

func TestPlugin_UsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	b, _ := newSpy()
	p := newPlugin(t, b, memory.Config{})

	a, err := p.Resolve(ctx, invocation("alice"))
	require.NoError(t, err)
	c, err := p.Resolve(ctx, invocation("bob"))
	require.NoError(t, err)

	assert.NotEqual(t, a.SpaceID, c.SpaceID)
	assert.Equal(t, "adk_chat_alice", a.SpaceName)
	assert.Equal(t, "adk_chat_bob", c.SpaceName)
}

func TestPlugin_ConfigErrorPropagates(t *testing.T) {
	ctx := context.Background()
	b, _ := newSpy()
	p := newPlugin(t, b, memory.Config{SpaceID: "missing"})

	err := p.OnUserMessage(ctx, invocation("u1"), &core.Content{Text: "hello"})
	assert.ErrorIs(t, err, memory.ErrSpaceNotFound)

	err = p.BeforeModel(ctx, invocation("u1"), &core.ModelRequest{Prompt: "hello"})
	assert.ErrorIs(t, err, memory.ErrSpaceNotFound)
	assert.Equal(t, 0, b.Calls("InsertMemory"))
}

func TestPlugin_TransientErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	b, _ := newSpy()
	p := newPlugin(t, b, memory.Config{})
	b.findErr = errors.New("connection refused")

	assert.NoError(t, p.OnUserMessage(ctx, invocation("u1"), &core.Content{Text: "hello"}))

	req := &core.ModelRequest{Prompt: "hello"}
	assert.NoError(t, p.BeforeModel(ctx, invocation("u1"), req))
	assert.Equal(t, "hello", req.Prompt)
}

func TestPlugin_WriteFailureDoesNotFailTurn(t *testing.T) {
	ctx := context.Background()
	b, _ := newSpy()
	p := newPlugin(t, b, memory.Config{})
	b.insertErr = errors.New("503")

	assert.NoError(t, p.OnUserMessage(ctx, invocation("u1"), &core.Content{Text: "hello"}))
	p.Wait()
	assert.Equal(t, 1, b.Calls("InsertMemory"))
}

func TestPlugin_RetrievalFailureSkipsAugmentation(t *testing.T) {
	ctx := context.Background()
	b, _ := newSpy()
	p := newPlugin(t, b, memory.Config{})
	b.retrieveErr = errors.New("boom")

	req := &core.ModelRequest{Prompt: "what did I say?"}
	assert.NoError(t, p.BeforeModel(ctx, invocation("u1"), req))
	assert.Equal(t, "what did I say?", req.Prompt)
}

func TestPlugin_RecallTimeout(t *testing.T) {
	ctx := context.Background()
	b, _ := newSpy()
	p := newPlugin(t, b, memory.Config{Timeout: 50 * time.Millisecond})

	_, err := p.Resolve(ctx, invocation("u1"))
	require.NoError(t, err)
	b.retrieveHook = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	req := &core.ModelRequest{Prompt: "slow query"}
	start := time.Now()
	assert.NoError(t, p.BeforeModel(ctx, invocation("u1"), req))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "slow query", req.Prompt)
}

func TestPlugin_RecallDoesNotWaitOnStalledResolution(t *testing.T) {
	ctx := context.Background()
	b, _ := newSpy()
	p := newPlugin(t, b, memory.Config{Timeout: 50 * time.Millisecond})

	// The first lookup hangs regardless of its context.
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	b.findHook = func(context.Context) error {
		first := false
		once.Do(func() { first = true; close(entered) })
		if first {
			<-release
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- p.OnUserMessage(ctx, invocation("u1"), &core.Content{Text: "hello"})
	}()
	<-entered

	req := &core.ModelRequest{Prompt: "anything new?"}
	start := time.Now()
	require.NoError(t, p.BeforeModel(ctx, invocation("u1"), req))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "anything new?", req.Prompt)

	close(release)
	assert.NoError(t, <-done)
}

func TestPlugin_SlowResolutionDoesNotBlockCapture(t *testing.T) {
	ctx := context.Background()
	b, _ := newSpy()
	p := newPlugin(t, b, memory.Config{Timeout: 50 * time.Millisecond})

	b.findHook = func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	start := time.Now()
	err := p.OnUserMessage(ctx, invocation("u1"), &core.Content{Text: "remember this"})
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, b.Calls("InsertMemory"))
}

func TestPlugin_EmptyPromptIsUntouched(t *testing.T) {
	b, _ := newSpy()
	p := newPlugin(t, b, memory.Config{})

	req := &core.ModelRequest{System: "sys"}
	require.NoError(t, p.BeforeModel(context.Background(), invocation("u1"), req))
	assert.Equal(t, 0, b.Calls("FindSpaceByName"))
	assert.Equal(t, 0, b.Calls("Retrieve"))
}

func TestPlugin_NoMemoriesNoBlock(t *testing.T) {
	b, _ := newSpy()
	p := newPlugin(t, b, memory.Config{})

	req := &core.ModelRequest{Prompt: "first message ever"}
	require.NoError(t, p.BeforeModel(context.Background(), invocation("u1"), req))
	assert.Equal(t, "first message ever", req.Prompt)
}

func TestNewPlugin_InvalidTopK(t *testing.T) {
	clearEnv(t)
	b, _ := newSpy()
	_, err := memory.NewPlugin(b, memory.Config{TopK: 500})
	assert.ErrorIs(t, err, memory.ErrInvalidTopK)
}

func TestNewPlugin_ReadsEnvAtConstruction(t *testing.T) {
	ctx := context.Background()
	b, _ := newSpy()
	mustEmbedder(t, b, "e")

	clearEnv(t)
	t.Setenv(memory.EnvSpaceName, "from-env")
	p, err := memory.NewPlugin(b, memory.Config{}, memory.WithLogger(quietLogger()))
	require.NoError(t, err)
	defer p.Close()

	t.Setenv(memory.EnvSpaceName, "changed-later")
	res, err := p.Resolve(ctx, invocation("u1"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", res.SpaceName)
	assert.Equal(t, "from-env", p.Config().SpaceName)
}
