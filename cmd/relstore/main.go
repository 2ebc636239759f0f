package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/hatlonely/relstore/config"
	"github.com/hatlonely/relstore/database"
	"github.com/hatlonely/relstore/entity"
	"github.com/hatlonely/relstore/log"
	"github.com/hatlonely/relstore/log/logger"
	"github.com/hatlonely/relstore/schema"
	"github.com/hatlonely/relstore/uid"
	"github.com/hatlonely/relstore/workflow"
	"github.com/pkg/errors"
)

const usage = `usage: relstore [-c config.yaml] <command>

commands:
  migrate                    create missing tables
  workflows                  list workflows
  run <workflow> [trigger]   run a workflow, trigger is {"path":{},"query":{},"body":{}}
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("relstore", flag.ContinueOnError)
	flags.Usage = func() { fmt.Fprint(flags.Output(), usage) }
	configFile := flags.String("c", "config.yaml", "config file, yaml/json/toml/ini")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return errors.New("command is required")
	}

	var options config.Options
	if err := config.Load(*configFile, &options); err != nil {
		return err
	}
	a, err := newApp(ctx, &options, filepath.Dir(*configFile))
	if err != nil {
		return err
	}
	defer a.Close()

	switch command := flags.Arg(0); command {
	case "migrate":
		return a.migrate(ctx)
	case "workflows":
		return a.listWorkflows(stdout)
	case "run":
		if flags.NArg() < 2 {
			return errors.New("run requires a workflow name")
		}
		trigger := "{}"
		if flags.NArg() > 2 {
			trigger = flags.Arg(2)
		}
		return a.runWorkflow(ctx, flags.Arg(1), trigger, stdout)
	default:
		flags.Usage()
		return errors.Errorf("unknown command %q", command)
	}
}

type app struct {
	db      database.Database
	schema  *schema.Schema
	feature *workflow.Feature
	logger  logger.Logger

	// 配置了日志器时持有它的输出，关闭后恢复原来的默认日志器
	logCloser     io.Closer
	defaultLogger logger.Logger
}

func newApp(ctx context.Context, options *config.Options, baseDir string) (*app, error) {
	a := &app{}
	l := log.Default()
	if options.Logger.Type != "" || options.Logger.Options != nil {
		var err error
		if l, err = log.NewLoggerWithOptions(&options.Logger); err != nil {
			return nil, err
		}
		if c, ok := l.(io.Closer); ok {
			a.logCloser = c
		}
		a.defaultLogger = log.Default()
		log.SetDefault(l)
	}
	a.logger = l.WithGroup("relstore")

	if err := a.init(ctx, options, baseDir, l); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, options *config.Options, baseDir string, l logger.Logger) error {
	sch, err := loadSchema(options.Schema, baseDir)
	if err != nil {
		return err
	}
	a.schema = sch
	ids, err := uid.NewGeneratorWithOptions(&options.IDGenerator)
	if err != nil {
		return err
	}
	if a.db, err = database.NewDatabaseWithOptions(&options.Database); err != nil {
		return err
	}
	if options.Migrate {
		if err := a.migrate(ctx); err != nil {
			return err
		}
	}

	engine := entity.NewEngine(a.db, sch, entity.WithIDGenerator(ids), entity.WithLogger(l))
	a.feature = workflow.NewTasksFeature(engine, options.Pagination)
	return nil
}

// loadSchema 未配置时使用内置的 tasks schema
func loadSchema(path string, baseDir string) (*schema.Schema, error) {
	if path == "" {
		return workflow.TasksSchema()
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return schema.LoadFile(path)
}

func (a *app) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
	}
	if a.defaultLogger != nil {
		log.SetDefault(a.defaultLogger)
	}
	if a.logCloser != nil {
		if cerr := a.logCloser.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close logger failed")
		}
	}
	return err
}

func (a *app) migrate(ctx context.Context) error {
	if err := database.Migrate(ctx, a.db, a.db.Dialect(), a.schema); err != nil {
		return errors.WithMessage(err, "migrate failed")
	}
	var tables []string
	for _, t := range a.schema.Tables() {
		tables = append(tables, t.Name())
	}
	a.logger.InfoContext(ctx, "schema migrated", "tables", tables)
	return nil
}

func (a *app) listWorkflows(w io.Writer) error {
	workflows := append([]workflow.Workflow(nil), a.feature.Workflows...)
	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].Tag < workflows[j].Tag
	})
	for _, wf := range workflows {
		if _, err := fmt.Fprintf(w, "%-22s %-6s %-7s %s\n", wf.Name, wf.Tag, wf.Method, wf.Path); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) runWorkflow(ctx context.Context, name string, trigger string, w io.Writer) error {
	wf, ok := a.feature.Workflow(name)
	if !ok {
		return errors.Errorf("unknown workflow %q", name)
	}
	var t workflow.Trigger
	if err := json.Unmarshal([]byte(trigger), &t); err != nil {
		return errors.Wrap(err, "decode trigger failed")
	}

	result, err := wf.Execute(ctx, t)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
