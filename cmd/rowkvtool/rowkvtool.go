// Command rowkvtool is a small administrative CLI over one demo row
// type ("widget": an int64 id key, a string name and int64 price value),
// exercising pkg/table's write/scan surface against any registered
// kvengine backend — the same flat-flags-plus-switch style camdbinit.go
// and dbinit.go use to let an operator pick a storage engine by a
// "-type" flag and a handful of engine-specific connection flags.
//
// Usage:
//
//	rowkvtool -type=memory put -id=1 -name=gadget -price=100
//	rowkvtool -type=leveldb -file=/tmp/widgets.ldb scan -filter="price>=0"
//	rowkvtool -type=sqlite -dsn=/tmp/widgets.db get -id=1
//	rowkvtool -type=kvfile -file=/tmp/widgets.kv delete -id=1
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/camforge/rowkv/pkg/coltype"
	"github.com/camforge/rowkv/pkg/kvengine"
	_ "github.com/camforge/rowkv/pkg/kvengine/kvfilekv"
	_ "github.com/camforge/rowkv/pkg/kvengine/leveldbkv"
	_ "github.com/camforge/rowkv/pkg/kvengine/memkv"
	_ "github.com/camforge/rowkv/pkg/kvengine/mongokv"
	_ "github.com/camforge/rowkv/pkg/kvengine/sqlkv"
	"github.com/camforge/rowkv/pkg/rowconfig"
	"github.com/camforge/rowkv/pkg/rowschema"
	"github.com/camforge/rowkv/pkg/table"
)

var (
	flagType = flag.String("type", "memory", "backend type: memory, leveldb, kvfile, sqlite, mysql, postgres, mongo")
	flagFile = flag.String("file", "", "file/directory path, for leveldb and kvfile backends")
	flagDSN  = flag.String("dsn", "", "data source name, for sqlite/mysql/postgres backends")

	flagMongoHost = flag.String("mongohost", "localhost", "mongo host[:port]")
	flagMongoDB   = flag.String("mongodb", "rowkvtool", "mongo database name")
	flagMongoUser = flag.String("mongouser", "", "mongo username")
	flagMongoPass = flag.String("mongopass", "", "mongo password")
)

// widgetRowInfo is the one demo row type this tool operates against.
func widgetRowInfo() *rowschema.RowInfo {
	info, err := rowschema.NewRowInfo("widget", 1, []*rowschema.Column{
		{Name: "id", Type: coltype.TInt64},
	}, []*rowschema.Column{
		{Name: "name", Type: coltype.TString},
		{Name: "price", Type: coltype.TInt64},
	})
	if err != nil {
		exitf("building widget row info: %v", err)
	}
	return info
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		exitf("usage: rowkvtool [globalopts] <put|get|scan|delete> [subcommandopts]")
	}

	ctx := context.Background()
	backend := openBackend(ctx)
	defer backend.Close()

	info := widgetRowInfo()
	registry := rowschema.NewRegistry(rowschema.SourceFunc(func(rowType string, schemaVersion int) (*rowschema.RowInfo, error) {
		if rowType == info.RowType && schemaVersion == info.SchemaVersion {
			return info, nil
		}
		return nil, nil
	}), 0)

	primary, err := backend.OpenIndex(ctx, "widget")
	if err != nil {
		exitf("opening widget index: %v", err)
	}
	tbl, err := table.New(primary, registry, info)
	if err != nil {
		exitf("building table: %v", err)
	}

	switch args[0] {
	case "put":
		runPut(ctx, tbl, args[1:])
	case "get":
		runGet(ctx, tbl, args[1:])
	case "scan":
		runScan(ctx, tbl, args[1:])
	case "delete":
		runDelete(ctx, tbl, args[1:])
	default:
		exitf("unknown subcommand %q", args[0])
	}
}

// openBackend builds the rowconfig.Obj for the selected -type and opens
// it through kvengine.Open, mirroring camdbinit.go's switch over
// -type/-host/-database into a driver-specific connection.
func openBackend(ctx context.Context) kvengine.Backend {
	cfg := rowconfig.Obj{"type": *flagType}
	switch *flagType {
	case "memory":
		// no further keys
	case "leveldb", "kvfile":
		if *flagFile == "" {
			exitf("-file is required for -type=%s", *flagType)
		}
		cfg["file"] = *flagFile
	case "sqlite", "mysql", "postgres":
		if *flagDSN == "" {
			exitf("-dsn is required for -type=%s", *flagType)
		}
		cfg["dsn"] = *flagDSN
	case "mongo":
		cfg["host"] = *flagMongoHost
		cfg["database"] = *flagMongoDB
		if *flagMongoUser != "" {
			cfg["user"] = *flagMongoUser
		}
		if *flagMongoPass != "" {
			cfg["password"] = *flagMongoPass
		}
	default:
		exitf("unknown -type %q", *flagType)
	}

	backend, err := kvengine.Open(cfg)
	if err != nil {
		exitf("opening %s backend: %v", *flagType, err)
	}
	return backend
}

func runPut(ctx context.Context, tbl *table.Table, args []string) {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	id := fs.Int64("id", 0, "widget id")
	name := fs.String("name", "", "widget name")
	price := fs.Int64("price", 0, "widget price")
	fs.Parse(args)

	row := table.Row{"id": *id, "name": *name, "price": *price}
	if err := tbl.Store(ctx, nil, row); err != nil {
		exitf("put: %v", err)
	}
	fmt.Printf("stored widget %d\n", *id)
}

func runGet(ctx context.Context, tbl *table.Table, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	id := fs.Int64("id", 0, "widget id")
	fs.Parse(args)

	filter := fmt.Sprintf("id==%d", *id)
	scanner, err := tbl.Scan(ctx, filter, nil, 0, kvengine.LockNone)
	if err != nil {
		exitf("get: %v", err)
	}
	defer scanner.Close()

	row, err := scanner.Step()
	if err != nil {
		exitf("get: %v", err)
	}
	if row == nil {
		fmt.Printf("no widget with id %d\n", *id)
		return
	}
	printRow(row)
}

func runScan(ctx context.Context, tbl *table.Table, args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	filter := fs.String("filter", "id>=0", "filter expression over id/name/price")
	fs.Parse(args)

	scanner, err := tbl.Scan(ctx, *filter, nil, 0, kvengine.LockNone)
	if err != nil {
		exitf("scan: %v", err)
	}
	defer scanner.Close()

	n := 0
	for {
		row, err := scanner.Step()
		if err != nil {
			exitf("scan: %v", err)
		}
		if row == nil {
			break
		}
		printRow(row)
		n++
	}
	fmt.Printf("%d row(s)\n", n)
}

func runDelete(ctx context.Context, tbl *table.Table, args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.Int64("id", 0, "widget id")
	fs.Parse(args)

	if err := tbl.Delete(ctx, nil, table.Row{"id": *id}); err != nil {
		exitf("delete: %v", err)
	}
	fmt.Printf("deleted widget %d\n", *id)
}

func printRow(row table.Row) {
	fmt.Printf("id=%v name=%v price=%v\n", row["id"], row["name"], row["price"])
}

func exitf(format string, args ...interface{}) {
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	log.Printf(format, args...)
	os.Exit(1)
}
