// Command sentryctl operates a running sentry daemon over its control API.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/psg-sentry/sentry/internal/api"
	"github.com/psg-sentry/sentry/internal/config"
	"github.com/psg-sentry/sentry/pkg/core"
	"github.com/pterm/pterm"
)

const usage = `Usage: sentryctl [-server URL] <command> [args]

Commands:
  status                      show the daemon status
  position                    show the commanded turret position
  move <pan> <tilt>           point the turret
  fire <on|off>               start or stop firing
  aim <x> <y> [fire]          convert a pixel to angles, optionally engaging
  colours                     list trackable colours
  controls                    show the operator controls
  controls set [flags]        replace the operator controls
  calibration                 show the calibration grid
  calibration set <file>      install a calibration grid from a JSON file
  camera [file]               show, or replace, the camera configuration
  engagements [limit]         list recent engagements
  statuses [limit]            list recent status samples`

func main() {
	_ = config.Load(".")

	server := flag.String("server", config.GetString("api.serverUrl"), "Base URL of the sentry daemon")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := api.New(*server)
	if err := run(c, args[0], args[1:]); err != nil {
		var se *api.StatusError
		if errors.As(err, &se) && se.Message != "" {
			pterm.Error.Printf("%s (HTTP %d)\n", se.Message, se.Code)
		} else {
			pterm.Error.Println(err)
		}
		os.Exit(1)
	}
}

func run(c *api.Client, cmd string, args []string) error {
	switch strings.ToLower(cmd) {
	case "status":
		return showStatus(c)
	case "position":
		pos, err := c.TurretPosition()
		if err != nil {
			return err
		}
		pterm.Info.Printf("Turret at %s\n", pos)
		return nil
	case "move":
		if len(args) != 2 {
			return fmt.Errorf("move needs <pan> <tilt>")
		}
		pan, tilt, err := parsePair(args[0], args[1])
		if err != nil {
			return err
		}
		if err := c.Move(pan, tilt); err != nil {
			return err
		}
		pterm.Success.Printf("Moving to pan %d tilt %d\n", pan, tilt)
		return nil
	case "fire":
		if len(args) != 1 {
			return fmt.Errorf("fire needs on or off")
		}
		firing, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		if err := c.Fire(firing); err != nil {
			return err
		}
		pterm.Success.Printf("Firing: %t\n", firing)
		return nil
	case "aim":
		return aim(c, args)
	case "colours", "colors":
		colours, err := c.TrackableColours()
		if err != nil {
			return err
		}
		items := make([]pterm.BulletListItem, len(colours))
		for i, col := range colours {
			items[i] = pterm.BulletListItem{Level: 0, Text: col.String()}
		}
		return pterm.DefaultBulletList.WithItems(items).Render()
	case "controls":
		if len(args) > 0 && args[0] == "set" {
			return setControls(c, args[1:])
		}
		cfg, err := c.Controls()
		if err != nil {
			return err
		}
		return renderControls(cfg)
	case "calibration":
		if len(args) > 0 && args[0] == "set" {
			if len(args) != 2 {
				return fmt.Errorf("calibration set needs <file>")
			}
			return calibrate(c, args[1])
		}
		return showCalibration(c)
	case "camera":
		var raw json.RawMessage
		if len(args) == 1 {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			raw = data
		}
		out, err := c.CameraConfiguration(raw)
		if err != nil {
			return err
		}
		pterm.Println(prettyJSON(out))
		return nil
	case "engagements":
		limit, err := parseLimit(args)
		if err != nil {
			return err
		}
		return showEngagements(c, limit)
	case "statuses":
		limit, err := parseLimit(args)
		if err != nil {
			return err
		}
		return showStatuses(c, limit)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func showStatus(c *api.Client) error {
	spinner, _ := pterm.DefaultSpinner.Start("Contacting sentry...")
	st, err := c.Status()
	if err != nil {
		spinner.Fail("Sentry is not reachable")
		return err
	}
	spinner.Success("Sentry is up")

	data := pterm.TableData{
		{"Field", "Value"},
		{"Uptime", st.Uptime},
		{"Position", core.Position{Pan: st.Turret.Pan, Tilt: st.Turret.Tilt}.String()},
		{"Firing", strconv.FormatBool(st.Turret.Firing)},
		{"Always fire", strconv.FormatBool(st.AlwaysFire)},
		{"Scanner", st.Scanner},
		{"Calibrated", strconv.FormatBool(st.Calibrated)},
		{"Dropped frames", strconv.FormatUint(st.DroppedFrames, 10)},
	}
	if st.Events != nil {
		data = append(data, []string{"Events delivered", strconv.FormatUint(st.Events.Delivered, 10)})
	}
	if st.Telemetry != nil {
		data = append(data,
			[]string{"Statuses written", strconv.FormatUint(st.Telemetry.StatusesWritten, 10)},
			[]string{"Engagements written", strconv.FormatUint(st.Telemetry.EngagementsWritten, 10)},
		)
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func aim(c *api.Client, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("aim needs <x> <y> [fire]")
	}
	x, y, err := parsePair(args[0], args[1])
	if err != nil {
		return err
	}
	engage := len(args) == 3 && args[2] == "fire"
	if engage {
		pterm.Warning.Println("Moving and firing")
	}
	pos, err := c.Aim(x, y, engage)
	if err != nil {
		return err
	}
	pterm.Info.Printf("Pixel (%d, %d) is %s\n", x, y, pos)
	return nil
}

func setControls(c *api.Client, args []string) error {
	fs := flag.NewFlagSet("controls set", flag.ContinueOnError)
	tracking := fs.Bool("tracking", false, "run detection and annotate targets")
	autofire := fs.Bool("autofire", false, "engage shootable targets")
	alwaysfire := fs.Bool("alwaysfire", false, "latch the trigger on")
	scan := fs.Bool("scanwhenidle", false, "pan while idle")
	shoot := fs.String("shoot", "", "comma separated colours to shoot")
	safe := fs.String("safe", "", "comma separated colours never to shoot")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := core.ControlsConfig{
		Tracking:     *tracking,
		Autofire:     *autofire,
		AlwaysFire:   *alwaysfire,
		ScanWhenIdle: *scan,
	}
	var err error
	if cfg.ShootColours, err = parseColours(*shoot); err != nil {
		return err
	}
	if cfg.SafeColours, err = parseColours(*safe); err != nil {
		return err
	}

	if cfg.AlwaysFire {
		result, _ := pterm.DefaultInteractiveConfirm.Show("Always-fire keeps the trigger held. Continue?")
		if !result {
			pterm.Info.Println("Cancelled.")
			return nil
		}
	}

	if err := c.SetControls(cfg); err != nil {
		return err
	}
	pterm.Success.Println("Controls updated")
	return renderControls(cfg)
}

func renderControls(cfg core.ControlsConfig) error {
	data := pterm.TableData{
		{"Control", "Value"},
		{"tracking", strconv.FormatBool(cfg.Tracking)},
		{"autofire", strconv.FormatBool(cfg.Autofire)},
		{"alwaysfire", strconv.FormatBool(cfg.AlwaysFire)},
		{"scanwhenidle", strconv.FormatBool(cfg.ScanWhenIdle)},
		{"shoot", joinColours(cfg.ShootColours)},
		{"safe", joinColours(cfg.SafeColours)},
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func showCalibration(c *api.Client) error {
	grid, err := c.Calibration()
	if err != nil {
		return err
	}
	if grid == nil {
		pterm.Warning.Println("Turret is not calibrated")
		return nil
	}

	pterm.DefaultSection.Println("Limits")
	pterm.Info.Printf("pan %d..%d, tilt %d..%d\n", grid.PanLeft, grid.PanRight, grid.TiltUp, grid.TiltDown)

	pterm.DefaultSection.Println("Grid")
	header := []string{"row \\ col"}
	for col := range grid.Grid.Pan {
		header = append(header, fmt.Sprintf("pan %d", grid.Grid.Pan[col]))
	}
	data := pterm.TableData{header}
	for row := range grid.Grid.Tilt {
		line := []string{fmt.Sprintf("tilt %d", grid.Grid.Tilt[row])}
		for col := range grid.Grid.Pan {
			line = append(line, fmt.Sprintf("(%d, %d)", grid.Grid.X[row][col], grid.Grid.Y[row][col]))
		}
		data = append(data, line)
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func calibrate(c *api.Client, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var grid core.CalibrationGrid
	if err := json.Unmarshal(data, &grid); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := c.Calibrate(grid); err != nil {
		return err
	}
	pterm.Success.Println("Calibration installed")
	return nil
}

func showEngagements(c *api.Client, limit int) error {
	list, err := c.Engagements(limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		pterm.Info.Println("No engagements recorded")
		return nil
	}
	data := pterm.TableData{{"Time", "Pixel", "Colour", "Aim", "Cost"}}
	for _, e := range list {
		data = append(data, []string{
			e.Time.Format("2006-01-02 15:04:05.000"),
			fmt.Sprintf("(%d, %d)", e.PixelX, e.PixelY),
			e.Colour.String(),
			core.Position{Pan: e.Pan, Tilt: e.Tilt}.String(),
			strconv.Itoa(e.Cost),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func showStatuses(c *api.Client, limit int) error {
	list, err := c.Statuses(limit)
	if err != nil {
		return err
	}
	data := pterm.TableData{{"Time", "Pan", "Tilt", "Firing"}}
	for _, s := range list {
		data = append(data, []string{
			s.Time.Format("2006-01-02 15:04:05.000"),
			strconv.Itoa(s.Pan),
			strconv.Itoa(s.Tilt),
			strconv.FormatBool(s.Firing),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
