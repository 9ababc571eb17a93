package data

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScriptClient records calls and replies with canned results.
type fakeScriptClient struct {
	exists      bool
	existsErr   error
	loadSha     string
	loadErr     error
	evalErrs    []error
	evalResult  interface{}
	existsCalls int
	loadCalls   int
	evalCalls   int
	evalShas    []string
}

func (f *fakeScriptClient) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	f.existsCalls++
	cmd := redis.NewBoolSliceCmd(ctx)
	if f.existsErr != nil {
		cmd.SetErr(f.existsErr)
		return cmd
	}
	cmd.SetVal([]bool{f.exists})
	return cmd
}

func (f *fakeScriptClient) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	f.loadCalls++
	cmd := redis.NewStringCmd(ctx)
	if f.loadErr != nil {
		cmd.SetErr(f.loadErr)
		return cmd
	}
	cmd.SetVal(f.loadSha)
	return cmd
}

func (f *fakeScriptClient) EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	f.evalCalls++
	f.evalShas = append(f.evalShas, sha)
	cmd := redis.NewCmd(ctx)
	if len(f.evalErrs) > 0 {
		err := f.evalErrs[0]
		if len(f.evalErrs) > 1 {
			f.evalErrs = f.evalErrs[1:]
		}
		if err != nil {
			cmd.SetErr(err)
			return cmd
		}
	}
	cmd.SetVal(f.evalResult)
	return cmd
}

var errNoScript = errors.New("NOSCRIPT No matching script. Please use EVAL.")

func newTestRegistry(t *testing.T, client scriptClient) *ScriptRegistry {
	t.Helper()
	registry, err := newScriptRegistry(client, false, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)
	return registry
}

func TestScriptRegistry_RegistersEmbeddedScripts(t *testing.T) {
	registry := newTestRegistry(t, &fakeScriptClient{})

	for _, name := range []string{
		ScriptLockAcquire, ScriptLockRelease, ScriptUpdateStats, ScriptCloseCircuit, ScriptReopenCircuit,
		ScriptHalfOpenCircuits, ScriptUnlockSampleQueues, ScriptAllCircuits, ScriptUnlockStrandedQueues,
	} {
		script, ok := registry.Script(name)
		require.True(t, ok, name)
		assert.Len(t, script.Hash(), 40)
		assert.NotContains(t, script.Source(), scriptLogMarker)
	}
}

func TestNewScript_LogOutput(t *testing.T) {
	source := "local a = 1\nredis.log(redis.LOG_NOTICE, 'hello')\nreturn a\n"

	stripped := NewScript("s", source, false)
	assert.Equal(t, "local a = 1\nreturn a\n", stripped.Source())
	sum := sha1.Sum([]byte(stripped.Source()))
	assert.Equal(t, hex.EncodeToString(sum[:]), stripped.Hash())

	kept := NewScript("s", source, true)
	assert.True(t, strings.Contains(kept.Source(), "redis.log"))
	assert.NotEqual(t, stripped.Hash(), kept.Hash())
}

func TestScriptRegistry_Run_CachedScript(t *testing.T) {
	client := &fakeScriptClient{exists: true, evalResult: int64(1)}
	registry := newTestRegistry(t, client)

	res, err := registry.Run(context.Background(), ScriptLockAcquire, []string{"k"}, "token", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res)
	assert.Equal(t, 1, client.existsCalls)
	assert.Equal(t, 0, client.loadCalls)
	assert.Equal(t, 1, client.evalCalls)
}

func TestScriptRegistry_Run_LoadsMissingScript(t *testing.T) {
	registry := newTestRegistry(t, nil)
	script, _ := registry.Script(ScriptLockRelease)

	client := &fakeScriptClient{exists: false, loadSha: script.Hash(), evalResult: int64(0)}
	registry.client = client

	_, err := registry.Run(context.Background(), ScriptLockRelease, []string{"k"}, "token")
	require.NoError(t, err)
	assert.Equal(t, 1, client.loadCalls)
	assert.Equal(t, []string{script.Hash()}, client.evalShas)
}

func TestScriptRegistry_Run_AdoptsServerSha(t *testing.T) {
	client := &fakeScriptClient{exists: false, loadSha: "ffffffffffffffffffffffffffffffffffffffff", evalResult: "OK"}
	registry := newTestRegistry(t, client)

	_, err := registry.Run(context.Background(), ScriptReopenCircuit, nil)
	require.NoError(t, err)

	script, _ := registry.Script(ScriptReopenCircuit)
	assert.Equal(t, "ffffffffffffffffffffffffffffffffffffffff", script.Hash())
	assert.Equal(t, []string{"ffffffffffffffffffffffffffffffffffffffff"}, client.evalShas)
}

func TestScriptRegistry_Run_GivesUpAfterElevenAttempts(t *testing.T) {
	client := &fakeScriptClient{exists: true, evalErrs: []error{errNoScript}}
	registry := newTestRegistry(t, client)

	_, err := registry.Run(context.Background(), ScriptUpdateStats, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrScriptLoadAttemptsExceeded))
	assert.Equal(t, 11, client.evalCalls)
	assert.Equal(t, 11, client.existsCalls)
}

func TestScriptRegistry_Run_RecoversAfterNoScript(t *testing.T) {
	client := &fakeScriptClient{exists: true, evalErrs: []error{errNoScript, errNoScript, nil}, evalResult: "OK"}
	registry := newTestRegistry(t, client)

	res, err := registry.Run(context.Background(), ScriptUpdateStats, nil)
	require.NoError(t, err)
	assert.Equal(t, "OK", res)
	assert.Equal(t, 3, client.evalCalls)
}

func TestScriptRegistry_Run_OtherErrorFailsImmediately(t *testing.T) {
	client := &fakeScriptClient{exists: true, evalErrs: []error{errors.New("ERR Error running script: boom")}}
	registry := newTestRegistry(t, client)

	_, err := registry.Run(context.Background(), ScriptUpdateStats, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrScriptLoadAttemptsExceeded))
	assert.Equal(t, 1, client.evalCalls)
}

func TestScriptRegistry_Run_NilReply(t *testing.T) {
	client := &fakeScriptClient{exists: true, evalErrs: []error{redis.Nil}}
	registry := newTestRegistry(t, client)

	res, err := registry.Run(context.Background(), ScriptLockAcquire, nil)
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestScriptRegistry_Run_ExistsFailure(t *testing.T) {
	client := &fakeScriptClient{existsErr: errors.New("dial tcp: connection refused")}
	registry := newTestRegistry(t, client)

	_, err := registry.Run(context.Background(), ScriptLockAcquire, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to check script")
	assert.Equal(t, 0, client.evalCalls)
}

func TestScriptRegistry_Run_UnknownScript(t *testing.T) {
	registry := newTestRegistry(t, &fakeScriptClient{})

	_, err := registry.Run(context.Background(), "does_not_exist", nil)
	assert.True(t, errors.Is(err, ErrUnknownScript))
}

func TestScriptRegistry_Run_AgainstMiniredisAfterFlush(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	defer rdb.Close()

	registry, err := newScriptRegistry(rdb, false, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)

	ctx := context.Background()
	res, err := registry.Run(ctx, ScriptLockAcquire, []string{getLockKey("flush")}, "t1", 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res)

	require.NoError(t, rdb.ScriptFlush(ctx).Err())

	res, err = registry.Run(ctx, ScriptLockRelease, []string{getLockKey("flush")}, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res)
}
