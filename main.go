// flashprobe drives an external SPI flash chip through a serial bridge
// adapter: it benchmarks the chip, identifies it against a reference
// database, and backs up / restores full-chip images with CRC verification.
package main

import (
	"fmt"
	"log"
	"math/bits"
	"os"

	"github.com/spf13/cobra"

	"flashprobe/flashsim"
	"flashprobe/spibus"
	"flashprobe/spiflash"
	"flashprobe/tasks"
)

var (
	flagConfig string
	flagPort   string
	flagSim    int
)

type app struct {
	cfg   Config
	flash *spiflash.Flash
	tasks *tasks.Tasks
	close func()
}

func openApp() (*app, error) {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagPort != "" {
		cfg.Port = flagPort
	}

	var xfer spiflash.XferFunc
	closer := func() {}
	if flagSim > 0 {
		dev := flashsim.New(flagSim, [3]byte{0xEF, 0x40, simCapacityCode(flagSim)})
		xfer = dev.Xfer
		log.Printf("using simulated %d byte device", flagSim)
	} else {
		bus, err := spibus.Open(cfg.Port, cfg.Baud)
		if err != nil {
			return nil, err
		}
		xfer = bus.Xfer
		closer = func() { bus.Close() }
	}

	flash := spiflash.New(xfer)
	flash.LogFunc = log.Printf
	if err := flash.Init(); err != nil {
		closer()
		return nil, err
	}

	t := tasks.New(flash, tasks.DirStorage{Root: cfg.StorageRoot}, tasks.Config{
		BackupDir:       cfg.BackupDir,
		DatabasePath:    cfg.Database,
		ChunkBytes:      cfg.ChunkBytes,
		DefaultCapacity: cfg.DefaultCapacity,
	})
	t.LogFunc = log.Printf

	return &app{cfg: cfg, flash: flash, tasks: t, close: closer}, nil
}

// simCapacityCode derives the JEDEC capacity code that maps back to size,
// so the simulated device reports a coherent identity.
func simCapacityCode(size int) byte {
	if size <= 0 || size&(size-1) != 0 {
		return 0
	}
	return byte(bits.TrailingZeros(uint(size)) + 3)
}

func withApp(run func(a *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()
		return run(a)
	}
}

func main() {
	root := &cobra.Command{
		Use:           "flashprobe",
		Short:         "SPI flash forensic and benchmarking instrument",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "TOML config file")
	root.PersistentFlags().StringVar(&flagPort, "port", "", "bridge serial port (overrides config)")
	root.PersistentFlags().IntVar(&flagSim, "sim", 0, "run against a simulated device of this size instead of hardware")

	var topN int
	identifyCmd := &cobra.Command{
		Use:   "identify",
		Short: "benchmark the chip and rank it against the reference database",
		RunE: withApp(func(a *app) error {
			res, err := a.tasks.Identify(topN)
			if err != nil {
				return err
			}
			printIdentify(res)
			return nil
		}),
	}
	identifyCmd.Flags().IntVarP(&topN, "top", "n", 3, "number of matches to report (1-10)")

	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "dump the whole chip to a new image file",
		RunE: withApp(func(a *app) error {
			res, err := a.tasks.Backup()
			if err != nil {
				return err
			}
			fmt.Printf("backup OK: %s (size=%d, crc=0x%08x)\n", res.Path, res.Size, res.CRC32)
			return nil
		}),
	}

	restoreCmd := &cobra.Command{
		Use:   "restore [image]",
		Short: "write an image back to the chip (latest image when none is named)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runRestore(a, name)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list available image files",
		RunE: withApp(func(a *app) error {
			images, err := a.tasks.ListImages()
			if err != nil {
				return err
			}
			if len(images) == 0 {
				fmt.Println("(no images found)")
				return nil
			}
			for _, p := range images {
				fmt.Println(p)
			}
			return nil
		}),
	}

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "read and print the chip identity",
		RunE: withApp(func(a *app) error {
			printChipInfo(a)
			return nil
		}),
	}

	menuCmd := &cobra.Command{
		Use:   "menu",
		Short: "interactive operator menu",
		RunE: withApp(func(a *app) error {
			printChipInfo(a)
			return runMenu(a)
		}),
	}

	root.AddCommand(identifyCmd, backupCmd, restoreCmd, listCmd, probeCmd, menuCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runRestore(a *app, name string) error {
	res, err := a.tasks.Restore(name)
	if err != nil {
		return err
	}
	fmt.Printf("CRC(file)=0x%08x  CRC(flash)=0x%08x\n", res.Header.CRC32, res.DeviceCRC)
	if !res.Verified {
		fmt.Println("WARNING: restore completed but device CRC does not match the image.")
		return nil
	}
	fmt.Println("restore OK: flash matches image.")
	return nil
}

func printChipInfo(a *app) {
	id, err := a.flash.ReadJEDEC()
	if err != nil {
		fmt.Printf("identity read failed: %v\n", err)
		return
	}

	fmt.Println("--- Flash Chip Info ---")
	fmt.Printf("Manufacturer ID: 0x%02X\n", id.Manufacturer)
	if id.MemType == 0x00 || id.MemType == 0xFF {
		fmt.Println("Memory Type:     Unknown / Internal Flash")
	} else {
		fmt.Printf("Memory Type:     0x%02X\n", id.MemType)
	}
	fmt.Printf("Capacity Code:   0x%02X\n", id.CapacityCode)
	size, ok := spiflash.CapacityBytes(id.CapacityCode)
	if !ok {
		size = a.cfg.DefaultCapacity
	}
	fmt.Printf("Approx Capacity: %.2f MB\n", float64(size)/(1024.0*1024.0))
}

func pctDiff(obs, db float64) float64 {
	if db == 0 {
		db = 1
	}
	return (obs - db) / db * 100.0
}

func printIdentify(res *tasks.IdentifyResult) {
	fmt.Println(res.Report.String())

	fmt.Printf("\n================= TOP %d MATCHES =================\n", len(res.Matches))
	fmt.Printf("Observed JEDEC: 0x%02X 0x%02X 0x%02X\n",
		res.Observation.Manufacturer, res.Observation.Dev0, res.Observation.Dev1)
	fmt.Printf("Observed timings: READ=%.2f us, PROG=%.2f ms, ERASE=%.2f ms\n",
		res.Observation.ReadUS, res.Observation.ProgMS, res.Observation.EraseMS)
	fmt.Println("=================================================")

	for k, m := range res.Matches {
		rec := m.Record
		fmt.Printf("\n[#%d] %s\n", k+1, rec.Name)
		fmt.Printf("  JEDEC (DB):   0x%02X 0x%02X 0x%02X\n",
			rec.Manufacturer, rec.DeviceID[0], rec.DeviceID[1])
		fmt.Printf("  Score:        %.4f (lower is better)\n", m.Score)
		fmt.Printf("  READ  DB: %8.2f us | OBS: %8.2f us (%+6.1f%%)\n",
			rec.ReadUS, res.Observation.ReadUS, pctDiff(res.Observation.ReadUS, rec.ReadUS))
		fmt.Printf("  PROG  DB: %8.2f ms | OBS: %8.2f ms (%+6.1f%%)\n",
			rec.ProgMS, res.Observation.ProgMS, pctDiff(res.Observation.ProgMS, rec.ProgMS))
		fmt.Printf("  ERASE DB: %8.2f ms | OBS: %8.2f ms (%+6.1f%%)\n",
			rec.EraseMS, res.Observation.EraseMS, pctDiff(res.Observation.EraseMS, rec.EraseMS))
	}

	if len(res.Matches) > 0 {
		best := res.Matches[0]
		fmt.Println("\n=== Most likely chip ===")
		fmt.Printf("Name: %s\n", best.Record.Name)
		fmt.Printf("Score: %.4f (lower is better)\n", best.Score)
	} else {
		fmt.Println("\n(no scorable records in database)")
	}
}
