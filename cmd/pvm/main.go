package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-pvm"
	"github.com/goliatone/go-pvm/model"
	"github.com/goliatone/go-pvm/runtime"
	"github.com/goliatone/go-pvm/scheduler"
	"github.com/goliatone/go-pvm/store"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

const description = "Run process definitions on the pvm engine and print their listener trace."

// CLI is the command tree.
type CLI struct {
	LogLevel string `help:"Engine log level." default:"error" enum:"trace,debug,info,warn,error"`
	Config   string `help:"Engine configuration file (YAML). PVM_* variables override it." type:"existingfile"`
	DB       string `help:"SQLite database for instance records."`
	Redis    string `help:"Redis address for instance records."`

	Run    RunCmd    `cmd:"" help:"Start an instance of a process definition."`
	Resume ResumeCmd `cmd:"" help:"Continue a stored instance."`
	List   ListCmd   `cmd:"" help:"List stored instances."`
	Ops    OpsCmd    `cmd:"" help:"List the atomic operations of the engine."`
}

// Steering flags shared by run and resume.
type Steering struct {
	Signal     int  `help:"Signal the instance this many times while it waits."`
	Cancel     bool `help:"Cancel the instance once it stops."`
	SkipCustom bool `help:"Only fire built-in listeners."`
}

type RunCmd struct {
	Definition string            `arg:"" help:"Process definition file (YAML or JSON)." type:"existingfile"`
	Instance   string            `help:"Instance id." short:"i"`
	Var        map[string]string `help:"Process variables as key=value." short:"v"`
	Steering
}

type ResumeCmd struct {
	Definition string `arg:"" help:"Process definition file (YAML or JSON)." type:"existingfile"`
	Instance   string `arg:"" help:"Instance id."`
	Steering
}

type ListCmd struct{}

type OpsCmd struct{}

// app is bound into every command.
type app struct {
	cli    *CLI
	out    io.Writer
	logger pvm.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "pvm:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("pvm"),
		kong.Description(description),
		kong.Writers(out, errOut),
		kong.UsageOnError(),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	a := &app{cli: &cli, out: out, logger: newLogger(errOut, cli.LogLevel)}
	kctx.BindTo(ctx, (*context.Context)(nil))
	return kctx.Run(a)
}

func (c *RunCmd) Run(ctx context.Context, a *app) error {
	env, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	def, err := env.deploy(c.Definition)
	if err != nil {
		return err
	}
	vars := make(map[string]any, len(c.Var))
	for k, v := range c.Var {
		vars[k] = v
	}
	inst, err := env.engine.Start(ctx, def.Key, runtime.StartOptions{
		InstanceID:          c.Instance,
		Variables:           vars,
		SkipCustomListeners: c.SkipCustom,
	})
	if err != nil {
		return err
	}
	return env.steer(ctx, inst, c.Steering)
}

func (c *ResumeCmd) Run(ctx context.Context, a *app) error {
	env, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer env.close()
	if _, ok := env.store.(*store.MemoryStore); ok {
		return errors.New("resume needs a persistent store: pass --db, --redis or configure one")
	}

	if _, err := env.deploy(c.Definition); err != nil {
		return err
	}
	inst, err := env.engine.Restore(ctx, c.Instance)
	if err != nil {
		return err
	}
	return env.steer(ctx, inst, c.Steering)
}

func (c *ListCmd) Run(ctx context.Context, a *app) error {
	env, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	records, err := env.store.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Fprintf(a.out, "%s\t%s\t%s\t%s\tv%d\n", rec.InstanceID, rec.DefinitionKey, rec.State, rec.ActivityID, rec.Version)
	}
	return nil
}

func (c *OpsCmd) Run(a *app) error {
	for _, name := range runtime.NewEngine().OperationNames() {
		fmt.Fprintln(a.out, name)
	}
	return nil
}

// environment is the engine of one command with its store, queue and
// scheduler.
type environment struct {
	app       *app
	engine    *runtime.Engine
	queue     *scheduler.MemoryQueue
	scheduler *scheduler.Scheduler
	store     store.Store
	closer    func() error
	jobErr    error
}

func (a *app) open(ctx context.Context) (*environment, error) {
	cfg, err := runtime.LoadConfig(a.cli.Config)
	if err != nil {
		return nil, err
	}
	st, closer, err := a.openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	env := &environment{app: a, store: st, closer: closer, queue: scheduler.NewMemoryQueue()}
	env.engine = runtime.NewEngine(
		runtime.WithStore(st),
		runtime.WithQueue(env.queue),
		runtime.WithLogger(a.logger),
	)
	opts := append(cfg.Scheduler.Options(),
		scheduler.WithLogger(a.logger),
		scheduler.WithErrorHandler(func(job scheduler.Job, err error) {
			env.jobErr = fmt.Errorf("job %s failed: %w", job.Operation, err)
		}),
	)
	env.scheduler = scheduler.New(env.queue, env.engine, opts...)
	return env, nil
}

func (a *app) openStore(ctx context.Context, cfg runtime.StoreConfig) (store.Store, func() error, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch {
	case a.cli.DB != "" || driver == "sqlite":
		dsn := a.cli.DB
		if dsn == "" {
			dsn = cfg.DSN
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
		}
		db.SetMaxOpenConns(1)
		return store.NewSQLiteStore(db, cfg.Table), db.Close, nil
	case a.cli.Redis != "" || driver == "redis":
		addr := a.cli.Redis
		if addr == "" {
			addr = cfg.DSN
		}
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", addr, err)
		}
		return store.NewRedisStore(client, cfg.Prefix, cfg.TTL), client.Close, nil
	default:
		return store.NewMemoryStore(), func() error { return nil }, nil
	}
}

func (env *environment) close() {
	if err := env.closer(); err != nil {
		env.app.logger.Warn("closing store: %v", err)
	}
}

func (env *environment) deploy(path string) (*model.ProcessDefinition, error) {
	reg, err := builtinListeners(env.app.out)
	if err != nil {
		return nil, err
	}
	def, err := model.LoadDefinition(path, reg)
	if err != nil {
		return nil, err
	}
	return def, env.engine.Deploy(def)
}

// steer drains async jobs, applies the signal and cancel flags and prints
// where the instance stopped.
func (env *environment) steer(ctx context.Context, inst *runtime.ProcessInstance, s Steering) error {
	if err := env.settle(ctx); err != nil {
		return err
	}
	for i := 0; i < s.Signal && inst.State() == store.StateWaiting; i++ {
		if err := inst.Signal(ctx); err != nil {
			return err
		}
		if err := env.settle(ctx); err != nil {
			return err
		}
	}
	if s.Cancel && !inst.Ended() {
		if err := inst.Cancel(ctx, s.SkipCustom); err != nil {
			return err
		}
	}

	at := ""
	if e := inst.Execution(); e != nil && e.Activity() != nil {
		at = " at " + e.Activity().ID()
	}
	fmt.Fprintf(env.app.out, "instance %s %s%s\n", inst.ID(), inst.State(), at)
	return nil
}

func (env *environment) settle(ctx context.Context) error {
	if _, err := env.scheduler.Drain(ctx); err != nil {
		return err
	}
	err := env.jobErr
	env.jobErr = nil
	return err
}
