package data

import (
	"bufio"
	"context"
	"crypto/sha1"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"Gateleen/internal/conf"
	storeerrors "Gateleen/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

//go:embed lua/*.lua
var luaFS embed.FS

// Logical names of the embedded scripts
const (
	ScriptLockAcquire          = "lock_acquire"
	ScriptLockRelease          = "lock_release"
	ScriptUpdateStats          = "update_stats"
	ScriptCloseCircuit         = "close_circuit"
	ScriptReopenCircuit        = "reopen_circuit"
	ScriptHalfOpenCircuits     = "half_open_circuits"
	ScriptUnlockSampleQueues   = "unlock_sample_queues"
	ScriptAllCircuits          = "all_circuits"
	ScriptUnlockStrandedQueues = "unlock_stranded_queues"
)

// maxScriptReloads bounds the NOSCRIPT recovery: one initial execution plus
// this many reloads.
const maxScriptReloads = 10

const scriptLogMarker = "redis.log(redis.LOG_NOTICE,"

var (
	// ErrScriptLoadAttemptsExceeded is returned when a script kept vanishing
	// from the server cache for the whole reload budget.
	ErrScriptLoadAttemptsExceeded = errors.New("script load attempts exceeded")
	// ErrUnknownScript is returned for a name that is not registered.
	ErrUnknownScript = errors.New("unknown script")
)

// scriptClient is the subset of the redis client a ScriptRegistry needs.
type scriptClient interface {
	ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd
	ScriptLoad(ctx context.Context, script string) *redis.StringCmd
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd
}

// Script is a Lua source registered under a logical name.
type Script struct {
	name   string
	source string

	mu   sync.RWMutex
	hash string
}

// NewScript prepares a script. Log lines are removed unless logOutput is set,
// and the hash is computed over the resulting source.
func NewScript(name, source string, logOutput bool) *Script {
	if !logOutput {
		source = stripLogOutput(source)
	}
	sum := sha1.Sum([]byte(source))
	return &Script{name: name, source: source, hash: hex.EncodeToString(sum[:])}
}

// Name returns the logical name
func (s *Script) Name() string { return s.name }

// Source returns the source that is sent to the server
func (s *Script) Source() string { return s.source }

// Hash returns the sha currently used for EVALSHA
func (s *Script) Hash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hash
}

func (s *Script) setHash(hash string) {
	s.mu.Lock()
	s.hash = hash
	s.mu.Unlock()
}

func stripLogOutput(source string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(source))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, scriptLogMarker) {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// ScriptRegistry runs registered scripts by content hash and reloads them
// when the server lost its script cache.
type ScriptRegistry struct {
	client  scriptClient
	scripts map[string]*Script
	log     *log.Helper
}

// NewScriptRegistry registers every embedded script.
func NewScriptRegistry(rdb *redis.Client, c *conf.Breaker, logger log.Logger) (*ScriptRegistry, error) {
	logOutput := c != nil && c.ScriptLogOutput
	return newScriptRegistry(rdb, logOutput, logger)
}

func newScriptRegistry(client scriptClient, logOutput bool, logger log.Logger) (*ScriptRegistry, error) {
	r := &ScriptRegistry{
		client:  client,
		scripts: make(map[string]*Script),
		log:     log.NewHelper(log.With(logger, "module", "data/script")),
	}

	files, err := fs.Glob(luaFS, "lua/*.lua")
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	for _, file := range files {
		source, err := luaFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read script %s: %w", file, err)
		}
		name := strings.TrimSuffix(path.Base(file), ".lua")
		r.scripts[name] = NewScript(name, string(source), logOutput)
	}
	return r, nil
}

// Script returns the registered script with the given name
func (r *ScriptRegistry) Script(name string) (*Script, bool) {
	s, ok := r.scripts[name]
	return s, ok
}

// Run executes the named script. A nil script reply is returned as (nil, nil).
func (r *ScriptRegistry) Run(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	script, ok := r.scripts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScript, name)
	}

	for attempt := 0; attempt <= maxScriptReloads; attempt++ {
		if attempt > 0 {
			r.log.Warnw("msg", "script not cached on server, reloading", "script", name, "attempt", attempt)
		}

		sha, err := r.ensureLoaded(ctx, script)
		if err != nil {
			return nil, err
		}

		res, err := r.client.EvalSha(ctx, sha, keys, args...).Result()
		if err == nil {
			return res, nil
		}
		if storeerrors.IsNil(err) {
			return nil, nil
		}
		if !storeerrors.IsNoScript(err) {
			return nil, fmt.Errorf("failed to run script %s: %w", name, storeerrors.ClassifyRedisError("evalsha", err))
		}
	}

	r.log.Errorw("msg", "giving up on script", "script", name, "attempts", maxScriptReloads+1)
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrScriptLoadAttemptsExceeded, name, maxScriptReloads+1)
}

// ensureLoaded makes sure the server has the script cached and returns the
// sha to execute. The server-reported sha wins over the local one.
func (r *ScriptRegistry) ensureLoaded(ctx context.Context, script *Script) (string, error) {
	sha := script.Hash()
	exists, err := r.client.ScriptExists(ctx, sha).Result()
	if err != nil {
		return "", fmt.Errorf("failed to check script %s: %w", script.name, storeerrors.ClassifyRedisError("script exists", err))
	}
	if len(exists) > 0 && exists[0] {
		return sha, nil
	}

	loaded, err := r.client.ScriptLoad(ctx, script.source).Result()
	if err != nil {
		return "", fmt.Errorf("failed to load script %s: %w", script.name, storeerrors.ClassifyRedisError("script load", err))
	}
	if loaded != sha {
		r.log.Warnw("msg", "server reported a different script sha, using it", "script", script.name, "local", sha, "server", loaded)
		script.setHash(loaded)
	}
	r.log.Debugw("msg", "script loaded", "script", script.name, "sha", loaded)
	return loaded, nil
}
