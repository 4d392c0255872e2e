// Command kvdb is a small CLI front end over the kvstore engine, for
// poking at a store directory from a shell: set/get/del/contains values,
// set values with a TTL, or trigger reclaim. Each command opens the store
// and closes it again before exiting.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"kvdb/kvstore"
)

func openStore(c *cli.Context) (*kvstore.Engine, error) {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	return kvstore.Open(c.String("dir"), kvstore.Options{Logger: &logger})
}

func main() {
	app := &cli.App{
		Name:  "kvdb",
		Usage: "poke at a log-structured key-value store directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Value:   "db",
				Usage:   "store directory",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "set <key> <value>",
				ArgsUsage: "<key> <value>",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 2 {
						return cli.Exit("usage: kvdb set <key> <value>", 1)
					}
					db, err := openStore(c)
					if err != nil {
						return err
					}
					defer db.Close()
					if err := db.Set(c.Args().Get(0), c.Args().Get(1)); err != nil {
						return err
					}
					fmt.Println("OK")
					return nil
				},
			},
			{
				Name:      "get",
				Usage:     "get <key>",
				ArgsUsage: "<key>",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return cli.Exit("usage: kvdb get <key>", 1)
					}
					db, err := openStore(c)
					if err != nil {
						return err
					}
					defer db.Close()
					val, ok, err := db.Get(c.Args().Get(0))
					if err != nil {
						return err
					}
					if !ok {
						fmt.Println("(nil)")
						return nil
					}
					fmt.Printf("%v\n", val)
					return nil
				},
			},
			{
				Name:      "del",
				Usage:     "del <key>",
				ArgsUsage: "<key>",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return cli.Exit("usage: kvdb del <key>", 1)
					}
					db, err := openStore(c)
					if err != nil {
						return err
					}
					defer db.Close()
					if err := db.Del(c.Args().Get(0)); err != nil {
						return err
					}
					fmt.Println("OK")
					return nil
				},
			},
			{
				Name:      "contains",
				Usage:     "contains <key>",
				ArgsUsage: "<key>",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return cli.Exit("usage: kvdb contains <key>", 1)
					}
					db, err := openStore(c)
					if err != nil {
						return err
					}
					defer db.Close()
					ok, err := db.Contains(c.Args().Get(0))
					if err != nil {
						return err
					}
					fmt.Println(ok)
					return nil
				},
			},
			{
				Name:      "set-expiring",
				Usage:     "set-expiring <key> <value> <ttl-seconds>",
				ArgsUsage: "<key> <value> <ttl-seconds>",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 3 {
						return cli.Exit("usage: kvdb set-expiring <key> <value> <ttl-seconds>", 1)
					}
					ttl, err := strconv.ParseInt(c.Args().Get(2), 10, 64)
					if err != nil {
						return cli.Exit("ttl-seconds must be an integer", 1)
					}
					db, err := openStore(c)
					if err != nil {
						return err
					}
					defer db.Close()
					exp := time.Now().UnixMilli() + ttl*1000
					if err := db.SetWithExpiration(c.Args().Get(0), c.Args().Get(1), exp); err != nil {
						return err
					}
					fmt.Println("OK")
					return nil
				},
			},
			{
				Name:  "reclaim",
				Usage: "compact the store, dropping dead and expired entries",
				Action: func(c *cli.Context) error {
					db, err := openStore(c)
					if err != nil {
						return err
					}
					defer db.Close()
					if err := db.Reclaim(); err != nil {
						return err
					}
					fmt.Println("reclaim done")
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "kvdb:", err)
		os.Exit(1)
	}
}
