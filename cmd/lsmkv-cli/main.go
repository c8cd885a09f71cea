// Command lsmkv-cli is a small front end over the embedding API (§6): a
// single put/get/remove/range/flush invocation against a store directory,
// with an optional JSONC config file for defaults.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	flag "github.com/spf13/pflag"

	"github.com/arjvr/lsmkv"
)

// fileConfig holds the subset of Options a config file may override.
type fileConfig struct {
	MutableCapacityBytes   int     `json:"mutable_capacity_bytes,omitempty"`
	DisableBloomFilter     bool    `json:"disable_bloom_filter,omitempty"`
	BloomFalsePositiveRate float64 `json:"bloom_false_positive_rate,omitempty"`
}

func loadFileConfig(path string) (fileConfig, error) {
	if path == "" {
		return fileConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("reading config: %w", err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	var cfg fileConfig
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

var errMissingDB = errors.New("missing database directory")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("lsmkv-cli", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a JSONC config file")
	capacity := fs.Int("capacity", 16<<20, "mutable table capacity in bytes")
	bloom := fs.Bool("bloom", true, "enable bloom filters on flushed SSTables")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lsmkv-cli [flags] <db-dir> <put|get|remove|range|flush> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadFileConfig(*configPath)
	if err != nil {
		return err
	}
	if cfg.MutableCapacityBytes > 0 && !fs.Changed("capacity") {
		*capacity = cfg.MutableCapacityBytes
	}
	if !fs.Changed("bloom") {
		*bloom = !cfg.DisableBloomFilter
	}

	rest := fs.Args()
	if len(rest) < 2 {
		fs.Usage()
		return errMissingDB
	}

	dbDir, cmd, cmdArgs := rest[0], rest[1], rest[2:]

	e, err := lsmkv.Open(dbDir, lsmkv.Options{
		MutableCapacityBytes:   *capacity,
		DisableBloomFilter:     !*bloom,
		BloomFalsePositiveRate: cfg.BloomFalsePositiveRate,
	})
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer e.Shutdown()

	return dispatch(e, cmd, cmdArgs)
}

func dispatch(e *lsmkv.Engine, cmd string, args []string) error {
	switch cmd {
	case "put":
		if len(args) != 2 {
			return errors.New("usage: put <key> <value>")
		}
		return e.Put([]byte(args[0]), []byte(args[1]))

	case "get":
		if len(args) != 1 {
			return errors.New("usage: get <key>")
		}
		v, ok, err := e.Get([]byte(args[0]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Println(string(v))
		return nil

	case "remove":
		if len(args) != 1 {
			return errors.New("usage: remove <key>")
		}
		prior, found, err := e.Remove([]byte(args[0]))
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Printf("removed, prior=%s\n", string(prior))
		return nil

	case "range":
		if len(args) != 2 {
			return errors.New("usage: range <lo> <hi>")
		}
		kvs, err := e.Range([]byte(args[0]), []byte(args[1]))
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			fmt.Printf("%s\t%s\n", kv.Key, kv.Value)
		}
		return nil

	case "flush":
		return e.Flush()

	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}
