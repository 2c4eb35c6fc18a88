package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rigranger/rigrangerd/pkg/rigctl"
)

var (
	host    = flag.String("host", "127.0.0.1", "rigctld host")
	port    = flag.Int("port", 4532, "rigctld port")
	timeout = flag.Duration("timeout", 5*time.Second, "Per-command timeout")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		showHelp()
		return
	}

	m := rigctl.NewManager(rigctl.Config{
		Host:           *host,
		Port:           *port,
		Autostart:      false,
		ConnectTimeout: *timeout,
		CommandTimeout: *timeout,
	})
	defer m.Stop()

	if err := m.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if m.State() != rigctl.StateConnected {
		fmt.Fprintf(os.Stderr, "Error: no rigctld listening on %s:%d\n", *host, *port)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, m, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, m *rigctl.Manager, args []string) error {
	switch args[0] {
	case "freq":
		if len(args) == 1 {
			freq, err := m.GetFrequency(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d\n", freq)
			return nil
		}
		hz, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid frequency %q", args[1])
		}
		return m.SetFrequency(ctx, hz)

	case "mode":
		if len(args) == 1 {
			mode, passband, err := m.GetMode(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s %d\n", mode, passband)
			return nil
		}
		passband := 0
		if len(args) > 2 {
			var err error
			if passband, err = strconv.Atoi(args[2]); err != nil {
				return fmt.Errorf("invalid passband %q", args[2])
			}
		}
		return m.SetMode(ctx, args[1], passband)

	case "ptt":
		if len(args) == 1 {
			ptt, err := m.GetPTT(ctx)
			if err != nil {
				return err
			}
			if ptt {
				fmt.Println("on")
			} else {
				fmt.Println("off")
			}
			return nil
		}
		switch args[1] {
		case "on", "1":
			return m.SetPTT(ctx, true)
		case "off", "0":
			return m.SetPTT(ctx, false)
		default:
			return fmt.Errorf("invalid ptt state %q", args[1])
		}

	case "level":
		if len(args) < 2 {
			return fmt.Errorf("level requires a name, e.g. 'level STRENGTH'")
		}
		if len(args) == 2 {
			value, err := m.GetLevel(ctx, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%g\n", value)
			return nil
		}
		value, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid level value %q", args[2])
		}
		return m.SetLevel(ctx, args[1], value)

	case "status":
		status := m.Status()
		fmt.Printf("state: %s\n", status.State)
		fmt.Printf("model: %d\n", status.Model)
		fmt.Printf("addr: %s\n", status.Addr)
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func showHelp() {
	fmt.Println("rigrangerctl - rigctld control tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command>\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -host <host>        rigctld host (default: 127.0.0.1)")
	fmt.Println("  -port <port>        rigctld port (default: 4532)")
	fmt.Println("  -timeout <dur>      Per-command timeout (default: 5s)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  freq                      Get frequency in Hz")
	fmt.Println("  freq <hz>                 Set frequency")
	fmt.Println("  mode                      Get mode and passband")
	fmt.Println("  mode <mode> [passband]    Set mode, e.g. 'mode USB 2400'")
	fmt.Println("  ptt                       Get PTT state")
	fmt.Println("  ptt on|off                Key or unkey the transmitter")
	fmt.Println("  level <name>              Get a level, e.g. 'level STRENGTH'")
	fmt.Println("  level <name> <value>      Set a level, e.g. 'level RFPOWER 0.5'")
	fmt.Println("  status                    Show session status")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s freq 14074000\n", os.Args[0])
	fmt.Printf("  %s mode USB 2400\n", os.Args[0])
	fmt.Printf("  %s -port 4534 status\n", os.Args[0])
}
