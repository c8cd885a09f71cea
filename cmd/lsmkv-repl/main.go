// Command lsmkv-repl is an interactive line-editing shell over the
// embedding API (§6), exercising put/get/remove/range/flush manually —
// the cooperative/async duality note (§9) and the embedding contract
// both call for a user-facing surface that drives the engine end to end.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/arjvr/lsmkv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return errors.New("usage: lsmkv-repl <db-dir>")
	}

	e, err := lsmkv.Open(os.Args[1], lsmkv.Options{MutableCapacityBytes: 16 << 20})
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer e.Shutdown()

	r := &repl{e: e}
	return r.run()
}

type repl struct {
	e     *lsmkv.Engine
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".lsmkv_history")
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("lsmkv - embedded store shell. Type 'help' for commands.")

	for {
		line, err := r.liner.Prompt("lsmkv> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd, args := strings.ToLower(parts[0]), parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			r.saveHistory()
			return nil
		case "help", "?":
			r.printHelp()
		case "put":
			r.cmdPut(args)
		case "get":
			r.cmdGet(args)
		case "del", "remove":
			r.cmdRemove(args)
		case "range":
			r.cmdRange(args)
		case "flush":
			r.cmdFlush()
		default:
			fmt.Printf("unknown command: %s (type 'help')\n", cmd)
		}
	}

	r.saveHistory()
	return nil
}

func (r *repl) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}
	if f, err := os.Create(path); err == nil {
		r.liner.WriteHistory(f)
		f.Close()
	}
}

func (r *repl) completer(line string) []string {
	commands := []string{"put", "get", "del", "remove", "range", "flush", "help", "exit", "quit", "q"}
	var out []string
	lower := strings.ToLower(line)
	for _, c := range commands {
		if strings.HasPrefix(c, lower) {
			out = append(out, c)
		}
	}
	return out
}

func (r *repl) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  put <key> <value>   Insert or update a key")
	fmt.Println("  get <key>           Retrieve a key")
	fmt.Println("  del <key>           Remove a key")
	fmt.Println("  range <lo> <hi>     List keys in [lo, hi)")
	fmt.Println("  flush               Force a checkpoint flush")
	fmt.Println("  help                Show this help")
	fmt.Println("  exit / quit / q     Exit")
}

func (r *repl) cmdPut(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: put <key> <value>")
		return
	}
	if err := r.e.Put([]byte(args[0]), []byte(args[1])); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func (r *repl) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <key>")
		return
	}
	v, ok, err := r.e.Get([]byte(args[0]))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if !ok {
		fmt.Println("(not found)")
		return
	}
	fmt.Println(string(v))
}

func (r *repl) cmdRemove(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: del <key>")
		return
	}
	prior, found, err := r.e.Remove([]byte(args[0]))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if !found {
		fmt.Println("(not found)")
		return
	}
	fmt.Printf("removed, prior=%s\n", string(prior))
}

func (r *repl) cmdRange(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: range <lo> <hi>")
		return
	}
	kvs, err := r.e.Range([]byte(args[0]), []byte(args[1]))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if len(kvs) == 0 {
		fmt.Println("(empty)")
		return
	}
	for _, kv := range kvs {
		fmt.Printf("%s\t%s\n", kv.Key, kv.Value)
	}
}

func (r *repl) cmdFlush() {
	if err := r.e.Flush(); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}
