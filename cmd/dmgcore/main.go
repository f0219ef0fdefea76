// Command dmgcore runs a ROM headless for a fixed number of frames and,
// optionally, dumps the final frame as a PPM image. Grounded on
// go-jeebie's cmd/jeebie/main.go for the urfave/cli flag/action shape
// and snapshot-writing structure, trimmed to the host-facing surface
// this core actually exposes (no terminal/SDL renderer, since those
// live outside the emulation core).
package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/marnix-hale/dmgcore"
	"github.com/urfave/cli"
)

// grayscale is the default host-side translation from a 2-bit
// palette index to an 8-bit luminance sample, darkest index highest
// value, for dumping a framebuffer without any further color policy.
var grayscale = [4]byte{0xFF, 0xAA, 0x55, 0x00}

func main() {
	app := cli.NewApp()
	app.Name = "dmgcore"
	app.Usage = "dmgcore [options] <ROM file>"
	app.Description = "Runs a Game Boy ROM headless and reports its final frame"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "boot-rom",
			Usage: "Path to a boot ROM image (skipped if unset)",
		},
		cli.IntFlag{
			Name:  "frames",
			Usage: "Number of frames to run",
			Value: 60,
		},
		cli.StringFlag{
			Name:  "snapshot",
			Usage: "Write the final frame as a PPM image to this path",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		slog.Error("dmgcore failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		cli.ShowAppHelp(c)
		return errors.New("no ROM path provided")
	}
	romPath := c.Args().Get(0)
	frames := c.Int("frames")
	if frames <= 0 {
		return errors.New("--frames must be positive")
	}

	emu, err := dmgcore.NewFromFile(romPath, c.String("boot-rom"))
	if err != nil {
		return err
	}

	slog.Info("running rom", "path", romPath, "frames", frames)
	if err := emu.RunFrames(frames); err != nil {
		return fmt.Errorf("emulation fault: %w", err)
	}

	if path := c.String("snapshot"); path != "" {
		if err := writeSnapshot(path, emu.FrameBuffer()); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
		slog.Info("wrote snapshot", "path", path)
	}

	return nil
}

func writeSnapshot(path string, frame []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "P5\n%d %d\n255\n", dmgcore.FrameWidth, dmgcore.FrameHeight)
	for _, idx := range frame {
		w.WriteByte(grayscale[idx&0x03])
	}
	return w.Flush()
}
