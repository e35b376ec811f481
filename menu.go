package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// The operator menu is a small state machine: idle <-> menu -> one action ->
// back to menu. Keeping the states and the key transition table explicit
// makes the loop trivially auditable.
type menuState int

const (
	stateIdle menuState = iota
	stateMenu
	stateIdentify
	stateBackup
	stateRestoreLatest
	stateRestoreNamed
	stateList
	stateQuit
)

var menuTransitions = map[string]menuState{
	"1": stateIdentify,
	"2": stateBackup,
	"3": stateRestoreLatest,
	"4": stateRestoreNamed,
	"5": stateList,
	"q": stateQuit,
}

func runMenu(a *app) error {
	in := bufio.NewScanner(os.Stdin)

	readLine := func(prompt string) (string, bool) {
		fmt.Print(prompt)
		if !in.Scan() {
			return "", false
		}
		return strings.TrimSpace(in.Text()), true
	}

	report := func(err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}

	state := stateMenu
	for {
		switch state {
		case stateMenu:
			fmt.Println("\n=== MAIN MENU ===")
			fmt.Println("  1 = Run benchmark + identification")
			fmt.Println("  2 = Backup flash to image")
			fmt.Println("  3 = Restore flash (latest image)")
			fmt.Println("  4 = Restore flash (choose file)")
			fmt.Println("  5 = List available images")
			fmt.Println("  q = Quit (idle)")
			choice, ok := readLine("Select option: ")
			if !ok {
				return nil
			}
			next, known := menuTransitions[strings.ToLower(choice)]
			if !known {
				fmt.Printf("Unknown option %q. Please choose 1-5 or q.\n", choice)
				next = stateMenu
			}
			state = next

		case stateIdentify:
			topN := 3
			if line, ok := readLine("How many top matches to display? (1-10): "); ok && line != "" {
				if v, err := strconv.Atoi(line); err == nil {
					topN = v
				}
			}
			res, err := a.tasks.Identify(topN)
			if err != nil {
				report(err)
			} else {
				printIdentify(res)
			}
			state = stateMenu

		case stateBackup:
			res, err := a.tasks.Backup()
			if err != nil {
				report(err)
			} else {
				fmt.Printf("backup OK: %s (size=%d, crc=0x%08x)\n", res.Path, res.Size, res.CRC32)
			}
			state = stateMenu

		case stateRestoreLatest:
			report(runRestore(a, ""))
			state = stateMenu

		case stateRestoreNamed:
			fmt.Println("Existing images:")
			if images, err := a.tasks.ListImages(); err == nil {
				for _, p := range images {
					fmt.Println("  " + p)
				}
			}
			name, ok := readLine("Filename (empty cancels): ")
			if !ok {
				return nil
			}
			if name == "" {
				fmt.Println("restore cancelled.")
			} else {
				report(runRestore(a, name))
			}
			state = stateMenu

		case stateList:
			images, err := a.tasks.ListImages()
			if err != nil {
				report(err)
			} else if len(images) == 0 {
				fmt.Println("(no images found)")
			} else {
				for _, p := range images {
					fmt.Println(p)
				}
			}
			state = stateMenu

		case stateQuit:
			fmt.Println("Entering idle mode. Press 'm' + Enter to return to the menu.")
			state = stateIdle

		case stateIdle:
			line, ok := readLine("")
			if !ok {
				return nil
			}
			if strings.EqualFold(line, "m") {
				state = stateMenu
			}
		}
	}
}
