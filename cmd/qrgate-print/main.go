// Command qrgate-print renders the printed codes for every active mode_b
// action point, plus an index.csv sheet for the people putting them up.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	dbpkg "github.com/campusops/qrgate/internal/db"
	"github.com/campusops/qrgate/internal/logging"
	"github.com/campusops/qrgate/internal/qrgate/catalog"
	"github.com/campusops/qrgate/internal/qrgate/qrcode"
	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/store/sqlite"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

func main() {
	fs := flag.NewFlagSet("qrgate-print", flag.ExitOnError)
	catalogPath := fs.String("catalog", "", "Read action points from this YAML catalog")
	dbPath := fs.String("db", "", "Read action points from this SQLite database")
	outDir := fs.String("out", "./qr-codes", "Output directory")
	size := fs.Int("size", qrcode.DefaultSize, "PNG edge length in pixels")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Render printed QR codes for action points

USAGE:
    qrgate-print (--catalog <file> | --db <file>) [flags]

FLAGS:
    --catalog string   YAML catalog to read
    --db string        SQLite database to read
    --out string       Output directory (default "./qr-codes")
    --size int         PNG edge length in pixels (default 512)

OUTPUT:
    <out>/<action_point_id>.png   one code per active mode_b point
    <out>/index.csv               id, name, building, floor, location, payload`)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	logger, err := logging.New("dev", "info", "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, "qrgate-print: logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if (*catalogPath == "") == (*dbPath == "") {
		fs.Usage()
		logger.Error("exactly one of --catalog and --db is required")
		os.Exit(2)
	}

	ctx := context.Background()
	points, err := loadPoints(ctx, *catalogPath, *dbPath)
	if err != nil {
		logger.Error("load action points", zap.Error(err))
		os.Exit(1)
	}

	res, err := writeSheet(*outDir, points, *size)
	if err != nil {
		logger.Error("render", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("qr codes written",
		zap.String("out", *outDir),
		zap.Int("rendered", res.Rendered),
		zap.Int("skipped", res.Skipped))
}

func loadPoints(ctx context.Context, catalogPath, dbPath string) ([]types.ActionPoint, error) {
	if catalogPath != "" {
		c, err := catalog.Load(catalogPath)
		if err != nil {
			return nil, err
		}
		return c.ActionPoints, nil
	}

	db, err := dbpkg.Open(ctx, dbpkg.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	defer db.Close()
	writer := dbpkg.NewWorker(db)
	defer writer.Close()

	return listAll(ctx, sqlite.NewActionPointStore(db, writer))
}

// listAll pages through every active point.
func listAll(ctx context.Context, st store.ActionPointStore) ([]types.ActionPoint, error) {
	active := true
	var out []types.ActionPoint
	for page := 1; ; page++ {
		batch, total, err := st.ListActionPoints(ctx, store.ActionPointFilter{Active: &active},
			types.Page{Page: page, PageSize: types.MaxPageSize})
		if err != nil {
			return nil, fmt.Errorf("list action points: %w", err)
		}
		out = append(out, batch...)
		if len(batch) == 0 || len(out) >= total {
			return out, nil
		}
	}
}
