package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/oisee/rv64sim/pkg/debug"
	"github.com/oisee/rv64sim/pkg/mem"
	"github.com/oisee/rv64sim/pkg/sim"
	"github.com/spf13/cobra"
)

func main() {
	var (
		stepMode   bool
		debugMode  bool
		memSize    uint64
		forceELF   bool
		useOoO     bool
		useInOrder bool
		noDiffTest bool
		maxCycles  uint64
		statsJSON  string

		debugPreset    string
		debugFlags     string
		debugCycles    string
		debugSimple    bool
		debugVerbose   bool
		debugWithPC    bool
		debugFile      string
		debugNoConsole bool
	)

	rootCmd := &cobra.Command{
		Use:   "rv64sim [flags] <program>",
		Short: "Cycle-level RV64GC simulator — out-of-order core with DiffTest",
		Args:  cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			program := args[0]

			debugEnabled := debugMode || debugPreset != "" || debugFlags != "" ||
				debugCycles != "" || debugSimple || debugVerbose || debugWithPC ||
				debugFile != "" || debugNoConsole
			mode := debug.ModeVerbose
			if debugWithPC {
				mode = debug.ModeWithPC
			} else if debugSimple {
				mode = debug.ModeSimple
			}
			if err := debug.Configure(debug.Config{
				Enabled:    debugEnabled,
				Preset:     debugPreset,
				Categories: debugFlags,
				CycleRange: debugCycles,
				Mode:       mode,
				FilePath:   debugFile,
				NoConsole:  debugNoConsole,
			}); err != nil {
				return err
			}
			defer debug.Close()

			cfg := sim.DefaultConfig()
			cfg.MaxCycles = maxCycles
			_ = useOoO // out-of-order is the default engine
			if useInOrder {
				cfg.Engine = sim.EngineInOrder
			}
			if noDiffTest {
				cfg.DiffTest = false
			}

			loadELF := forceELF || isELFPath(program)
			if memSize != 0 {
				cfg.MemSize = memSize
			} else if loadELF {
				cfg.MemSize = mem.RecommendedMemorySize(program, mem.DefaultSize, mem.DefaultStackReserve)
			}

			simulator, err := sim.New(cfg)
			if err != nil {
				return err
			}

			if loadELF {
				err = simulator.LoadELF(program)
			} else {
				var raw []byte
				raw, err = os.ReadFile(program)
				if err == nil {
					err = simulator.LoadBytes(0x1000, raw)
				}
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "load failed: %v\n", err)
				os.Exit(1)
			}

			if stepMode {
				err = runStepMode(simulator, debugMode)
			} else {
				err = simulator.Run()
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "simulation error: %v\n", err)
			}

			simulator.PrintStats(os.Stdout)
			if statsJSON != "" {
				f, ferr := os.Create(statsJSON)
				if ferr != nil {
					return ferr
				}
				defer f.Close()
				if jerr := simulator.WriteStatsJSON(f); jerr != nil {
					return jerr
				}
			}

			switch {
			case err != nil:
				os.Exit(2)
			case simulator.ExitCode() != 0:
				os.Exit(simulator.ExitCode())
			}
			return nil
		},
	}

	rootCmd.Flags().BoolVarP(&stepMode, "step", "s", false, "Single-step mode (Enter advances one cycle, q quits)")
	rootCmd.Flags().BoolVarP(&debugMode, "debug", "d", false, "Debug mode (state dumps + trace output)")
	rootCmd.Flags().Uint64VarP(&memSize, "mem", "m", 0, "Memory size in bytes (0 = auto from ELF)")
	rootCmd.Flags().BoolVarP(&forceELF, "elf", "e", false, "Force ELF loading regardless of file name")
	rootCmd.Flags().BoolVar(&useOoO, "ooo", true, "Use the out-of-order engine (default)")
	rootCmd.Flags().BoolVar(&useInOrder, "in-order", false, "Use the in-order engine")
	rootCmd.Flags().BoolVar(&noDiffTest, "no-difftest", false, "Disable the DiffTest cross-check")
	rootCmd.Flags().Uint64Var(&maxCycles, "max-cycles", 0, "Stop after this many cycles (0 = unlimited)")
	rootCmd.Flags().StringVar(&statsJSON, "stats-json", "", "Write run statistics as JSON to this file")

	rootCmd.Flags().StringVar(&debugPreset, "debug-preset", "", "Debug preset (basic, ooo, inorder, pipeline, performance, detailed, memory, branch, minimal)")
	rootCmd.Flags().StringVar(&debugFlags, "debug-flags", "", "Comma-separated debug categories (fetch,decode,issue,...)")
	rootCmd.Flags().StringVar(&debugCycles, "debug-cycles", "", "Debug cycle range start-end")
	rootCmd.Flags().BoolVar(&debugSimple, "debug-simple", false, "Simple trace format")
	rootCmd.Flags().BoolVar(&debugVerbose, "debug-verbose", false, "Verbose trace format (default)")
	rootCmd.Flags().BoolVar(&debugWithPC, "debug-with-pc", false, "Trace format with PC")
	rootCmd.Flags().StringVar(&debugFile, "debug-file", "", "Write trace output to a file")
	rootCmd.Flags().BoolVar(&debugNoConsole, "debug-no-console", false, "Suppress console trace output")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func isELFPath(path string) bool {
	if strings.HasSuffix(path, ".elf") {
		return true
	}
	// Sniff the magic; statically linked test binaries often have no
	// extension at all.
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var magic [4]byte
	if _, err := f.Read(magic[:]); err != nil {
		return false
	}
	return magic == [4]byte{0x7F, 'E', 'L', 'F'}
}

// runStepMode drives the simulator one cycle at a time from stdin.
func runStepMode(s *sim.Simulator, dumpState bool) error {
	in := bufio.NewScanner(os.Stdin)
	for !s.Halted() {
		fmt.Printf("pc=0x%x > ", s.Core().PC())
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		if line == "q" || line == "quit" {
			break
		}
		if err := s.Step(); err != nil {
			return err
		}
		if dumpState {
			c := s.Core()
			fmt.Printf("cycle=%d retired=%d pc=0x%x a0=0x%x\n",
				c.CycleCount(), c.InstructionCount(), c.PC(), c.Reg(10))
		}
	}
	return nil
}
