package processor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/thisisjab/logsieve/entity"
	"github.com/thisisjab/logsieve/parser"
)

const (
	execProtocolVersion = "v1"
	execParseOp         = "parse"

	execRuntimeCode  = "runtime"
	execCanceledCode = "canceled"

	defaultExecHandshakeTimeout = 5 * time.Second
	defaultExecRequestTimeout   = 2 * time.Second
	execShutdownTimeout         = 3 * time.Second

	// maxExecFrameSize bounds a single JSON line written by a plugin.
	maxExecFrameSize = 1 << 20
)

type ExecPluginConfig struct {
	Name             string        `yaml:"-"`
	Command          []string      `yaml:"command"`
	Dir              string        `yaml:"dir"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

// ExecPlugin runs a parser in a child process that speaks JSON lines over stdio.
//
// Right after starting, the plugin writes a handshake frame:
//
//	{"type":"handshake","protocol_version":"v1","plugin_name":"...","capabilities":{"ops":["parse"]}}
//
// Every line is then sent on the plugin's stdin as
//
//	{"type":"request","request_id":"7","op":"parse","input":{"line":"...","ctx":{"source":"..."}}}
//
// and the plugin answers on stdout, in any order, with
//
//	{"type":"response","request_id":"7","ok":true,"output":{"level":"...","message":"...","service":"..."}}
//
// A null or missing output means the line did not match. Responses with `ok` set to false, responses that
// do not arrive within the request timeout and requests sent after the plugin exited are all treated as
// no match. Whatever the plugin writes on stderr is logged at debug level.
type ExecPlugin struct {
	cfg        ExecPluginConfig
	logger     *slog.Logger
	pluginName string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writeM sync.Mutex

	router  *execRouter
	nextID  atomic.Uint64
	closing atomic.Bool
	done    chan struct{}
}

type execResponse struct {
	RequestID string
	Ok        bool
	Output    *entity.Record
	ErrCode   string
	ErrMsg    string
}

func NewExecPlugin(logger *slog.Logger, cfg ExecPluginConfig) (*ExecPlugin, error) {
	if cfg.Name == "" {
		return nil, errors.New("parser name is required")
	}

	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, errors.New("command is required")
	}

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultExecHandshakeTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultExecRequestTimeout
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("cannot open plugin stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("cannot open plugin stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("cannot open plugin stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cannot start plugin `%s`: %w", cfg.Command[0], err)
	}

	ep := &ExecPlugin{
		cfg:    cfg,
		logger: logger.With("parser", cfg.Name),
		cmd:    cmd,
		stdin:  stdin,
		router: newExecRouter(),
		done:   make(chan struct{}),
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxExecFrameSize)

	handshake := make(chan error, 1)
	go func() {
		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			handshake <- fmt.Errorf("plugin exited before handshake: %w", err)
			return
		}
		handshake <- ep.readHandshake(scanner.Bytes())
	}()

	select {
	case err = <-handshake:
	case <-time.After(cfg.HandshakeTimeout):
		err = fmt.Errorf("no handshake within %s", cfg.HandshakeTimeout)
	}
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Go(func() { ep.readResponses(scanner, stdout) })
	wg.Go(func() { ep.logStderr(stderr) })

	go func() {
		wg.Wait()
		waitErr := cmd.Wait()
		if waitErr == nil {
			waitErr = errors.New("plugin exited")
		}
		ep.router.failAll(waitErr)

		if ep.closing.Load() {
			ep.logger.Debug("exec plugin stopped.", "plugin", ep.pluginName)
		} else {
			ep.logger.Warn("exec plugin exited, lines are no longer parsed.", "plugin", ep.pluginName, "error", waitErr)
		}
		close(ep.done)
	}()

	return ep, nil
}

func (ep *ExecPlugin) Name() string {
	return ep.cfg.Name
}

// PluginName is the name the plugin announced in its handshake.
func (ep *ExecPlugin) PluginName() string {
	return ep.pluginName
}

func (ep *ExecPlugin) Parse(line string, ctx parser.Context) (entity.Record, bool) {
	rid := strconv.FormatUint(ep.nextID.Add(1), 10)
	ch := ep.router.register(rid)

	src := ""
	if ctx != nil {
		src = ctx.Source()
	}

	if err := ep.send(rid, line, src); err != nil {
		ep.router.cancel(rid, err)
	}

	timer := time.NewTimer(ep.cfg.RequestTimeout)
	defer timer.Stop()

	var resp execResponse
	select {
	case resp = <-ch:
	case <-timer.C:
		ep.router.cancel(rid, errors.New("request timed out"))
		resp = <-ch
	}

	if !resp.Ok && resp.ErrCode == execCanceledCode {
		ep.logger.Warn("exec plugin request failed.", "request_id", rid, "error", resp.ErrMsg)
		return entity.Record{}, false
	}

	if !resp.Ok {
		ep.logger.Debug("exec plugin request failed.", "request_id", rid, "code", resp.ErrCode, "error", resp.ErrMsg)
		return entity.Record{}, false
	}

	if resp.Output == nil {
		return entity.Record{}, false
	}

	return *resp.Output, true
}

// Close asks the plugin to exit by closing its stdin and kills it when it does not.
func (ep *ExecPlugin) Close() error {
	ep.closing.Store(true)
	err := ep.stdin.Close()

	select {
	case <-ep.done:
	case <-time.After(execShutdownTimeout):
		if kErr := ep.cmd.Process.Kill(); kErr != nil {
			err = errors.Join(err, kErr)
		}
		<-ep.done
	}

	return err
}

func (ep *ExecPlugin) send(rid, line, src string) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str("request") })
		e.Field("request_id", func(e *jx.Encoder) { e.Str(rid) })
		e.Field("op", func(e *jx.Encoder) { e.Str(execParseOp) })
		e.Field("input", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("line", func(e *jx.Encoder) { e.Str(line) })
				e.Field("ctx", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						e.Field("source", func(e *jx.Encoder) { e.Str(src) })
					})
				})
			})
		})
	})
	e.RawStr("\n")

	ep.writeM.Lock()
	defer ep.writeM.Unlock()

	_, err := ep.stdin.Write(e.Bytes())
	return err
}

func (ep *ExecPlugin) readHandshake(frame []byte) error {
	var (
		typ, version string
		ops          []string
	)

	d := jx.DecodeBytes(frame)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "type":
			typ, err = d.Str()
		case "protocol_version":
			version, err = d.Str()
		case "plugin_name":
			ep.pluginName, err = d.Str()
		case "capabilities":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				if key != "ops" {
					return d.Skip()
				}
				return d.Arr(func(d *jx.Decoder) error {
					op, err := d.Str()
					ops = append(ops, op)
					return err
				})
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("invalid handshake: %w", err)
	}

	if typ != "handshake" {
		return fmt.Errorf("expected handshake frame, got `%s`", typ)
	}
	if version != execProtocolVersion {
		return fmt.Errorf("unsupported protocol version `%s`, want `%s`", version, execProtocolVersion)
	}
	if !slices.Contains(ops, execParseOp) {
		return fmt.Errorf("plugin does not support the `%s` op", execParseOp)
	}

	return nil
}

func (ep *ExecPlugin) readResponses(scanner *bufio.Scanner, stdout io.Reader) {
	for scanner.Scan() {
		resp, typ, err := decodeExecResponse(scanner.Bytes())
		if err != nil {
			ep.logger.Warn("invalid frame from exec plugin.", "error", err)
			continue
		}
		if typ != "response" {
			ep.logger.Debug("ignoring exec plugin frame.", "type", typ)
			continue
		}

		ep.router.deliver(resp.RequestID, resp)
	}

	if err := scanner.Err(); err != nil {
		ep.logger.Warn("cannot read from exec plugin.", "error", err)
		// Drain the pipe so the process is not blocked on a write.
		_, _ = io.Copy(io.Discard, stdout)
	}
}

func (ep *ExecPlugin) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		ep.logger.Debug("exec plugin stderr.", "line", scanner.Text())
	}
}

func decodeExecResponse(frame []byte) (execResponse, string, error) {
	var (
		resp execResponse
		typ  string
	)

	d := jx.DecodeBytes(frame)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "type":
			typ, err = d.Str()
		case "request_id":
			resp.RequestID, err = decodeJsonString(d)
		case "ok":
			resp.Ok, err = d.Bool()
		case "output":
			resp.Output, err = decodeExecOutput(d)
		case "error":
			if d.Next() == jx.Null {
				return d.Null()
			}
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "code":
					resp.ErrCode, err = decodeJsonString(d)
				case "message":
					resp.ErrMsg, err = decodeJsonString(d)
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})

	return resp, typ, err
}

func decodeExecOutput(d *jx.Decoder) (*entity.Record, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}

	var rec entity.Record
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "level":
			rec.Level, err = decodeJsonString(d)
		case "message":
			rec.Message, err = decodeJsonString(d)
		case "service":
			rec.Service, err = decodeJsonString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// execRouter hands each response to the request waiting for it.
type execRouter struct {
	mu      sync.Mutex
	pending map[string]chan execResponse
	fatal   error
}

func newExecRouter() *execRouter {
	return &execRouter{pending: make(map[string]chan execResponse)}
}

// register returns the channel the response for rid is delivered on. Once the plugin is gone the
// channel already holds a failed response.
func (r *execRouter) register(rid string) chan execResponse {
	ch := make(chan execResponse, 1)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fatal != nil {
		ch <- failedExecResponse(rid, execRuntimeCode, r.fatal)
		return ch
	}

	r.pending[rid] = ch
	return ch
}

func (r *execRouter) deliver(rid string, resp execResponse) {
	r.mu.Lock()
	ch, ok := r.pending[rid]
	delete(r.pending, rid)
	r.mu.Unlock()

	if ok {
		ch <- resp
	}
}

func (r *execRouter) cancel(rid string, err error) {
	r.deliver(rid, failedExecResponse(rid, execCanceledCode, err))
}

func (r *execRouter) failAll(err error) {
	r.mu.Lock()
	r.fatal = err
	pending := r.pending
	r.pending = make(map[string]chan execResponse)
	r.mu.Unlock()

	for rid, ch := range pending {
		ch <- failedExecResponse(rid, execRuntimeCode, err)
	}
}

func failedExecResponse(rid, code string, err error) execResponse {
	return execResponse{RequestID: rid, Ok: false, ErrCode: code, ErrMsg: err.Error()}
}
