package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/leeforge/pluginhost/descriptor"
	"github.com/leeforge/pluginhost/plugin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	json  = jsoniter.ConfigCompatibleWithStandardLibrary
	title = cases.Title(language.English)
)

var jsonFlag = &cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"}

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "scan",
			Usage: "list plugin directories that are not installed yet",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "all", Usage: "include installed plugins"},
				jsonFlag,
			},
			Action: scanAction,
		},
		{
			Name:      "install",
			Usage:     "install the plugin unpacked in a directory",
			ArgsUsage: "<dir>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "type", Usage: "location type (core, user, upload)", Value: string(plugin.LocationUpload)},
			},
			Action: installAction,
		},
		{
			Name:   "list",
			Usage:  "list installed plugins",
			Flags:  []cli.Flag{jsonFlag},
			Action: listAction,
		},
		{
			Name:      "activate",
			Usage:     "activate an installed plugin",
			ArgsUsage: "<name>",
			Action:    activeAction(true),
		},
		{
			Name:      "deactivate",
			Usage:     "deactivate an installed plugin",
			ArgsUsage: "<name>",
			Action:    activeAction(false),
		},
		{
			Name:   "load",
			Usage:  "load active plugins and run their health checks",
			Action: loadAction,
		},
		{
			Name:      "dispatch",
			Usage:     "load active plugins and dispatch one event",
			ArgsUsage: "<event> [key=value...]",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{Name: "target", Usage: "only deliver to these plugin classes"},
			},
			Action: dispatchAction,
		},
	}
}

func scanAction(c *cli.Context) error {
	found, err := hostOf(c).manager.ScanPlugins(c.Context, c.Bool("all"))
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return writeJSON(c.App.Writer, found)
	}

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tVERSION\tCOMPATIBLE\tSTATE")
	for _, name := range names {
		info := found[name]
		version := ""
		if info.Config != nil {
			version = info.Config.Version
		}
		state := plugin.LoadOK
		if info.LoadError {
			state = plugin.LoadFaulted
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
			name, title.String(string(info.PluginType)), version, info.IsCompatible, title.String(state.String()))
	}
	return w.Flush()
}

func installAction(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return cli.Exit("install: plugin directory is required", 2)
	}
	m := hostOf(c).manager

	locType, err := plugin.ParseLocationType(c.String("type"))
	if err != nil {
		return err
	}
	if locType == plugin.LocationUpload {
		err = m.InstallUploadedPlugin(c.Context, dir)
	} else {
		var desc *plugin.Descriptor
		desc, err = descriptor.NewFileSource().ReadDescriptor(dir)
		if err == nil {
			err = m.InstallPlugin(c.Context, desc, locType)
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "installed %s\n", dir)
	return nil
}

func listAction(c *cli.Context) error {
	records, err := hostOf(c).manager.GetInstalledPlugins(c.Context)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return writeJSON(c.App.Writer, records)
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERSION\tTYPE\tACTIVE\tSTATE")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\n",
			r.ID, r.Name, r.Version, title.String(string(r.Type)), r.Active, title.String(r.State().String()))
	}
	return w.Flush()
}

func activeAction(active bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		name := c.Args().First()
		if name == "" {
			return cli.Exit(c.Command.Name+": plugin name is required", 2)
		}
		if err := hostOf(c).manager.SetPluginActive(c.Context, name, active); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s %sd\n", name, c.Command.Name)
		return nil
	}
}

func loadAction(c *cli.Context) error {
	m := hostOf(c).manager
	if err := m.LoadPlugins(c.Context); err != nil {
		return err
	}

	health := m.HealthCheck(c.Context)
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCLASS\tHEALTH")
	for _, p := range m.Instances() {
		status := "-"
		if err, ok := health[p.Name()+"#"+strconv.FormatInt(p.ID(), 10)]; ok {
			status = "ok"
			if err != nil {
				status = err.Error()
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", p.ID(), p.Name(), status)
	}
	return w.Flush()
}

func dispatchAction(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return cli.Exit("dispatch: event name is required", 2)
	}
	payload, err := parsePayload(c.Args().Tail())
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	m := hostOf(c).manager
	if err := m.LoadPlugins(c.Context); err != nil {
		return err
	}

	e := plugin.NewEvent(name, payload)
	e.Source = "pluginctl"
	e, err = m.Dispatch(c.Context, e, c.StringSlice("target")...)
	if err != nil {
		return err
	}
	loggerOf(c).Debug("event dispatched", zap.String("event", name), zap.Bool("stopped", e.IsStopped()))

	return writeJSON(c.App.Writer, map[string]any{
		"event":   e.Name,
		"id":      e.ID.String(),
		"stopped": e.IsStopped(),
		"payload": e.Payload(),
	})
}

// parsePayload turns key=value arguments into an event payload. Integers
// and booleans are converted; everything else stays a string.
func parsePayload(args []string) (map[string]any, error) {
	payload := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("payload argument %q is not key=value", arg)
		}
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			payload[key] = n
			continue
		}
		switch value {
		case "true", "false":
			payload[key] = value == "true"
		default:
			payload[key] = value
		}
	}
	return payload, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
