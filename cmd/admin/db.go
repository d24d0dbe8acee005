package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	runDir := fs.String("run", "", "run directory (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	agentID := fs.Int("agent", -1, "agent filter (transitions)")
	tick := fs.Int64("tick", -1, "tick filter (paints)")
	_ = fs.Parse(args)

	q := "ticks"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*runDir) == "" {
			fmt.Fprintln(os.Stderr, "missing -run or -db")
			os.Exit(2)
		}
		path = filepath.Join(*runDir, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}

	var rows []any
	switch q {
	case "ticks":
		rows, err = asAny(queryTicks(db, *limit))
	case "paints":
		rows, err = asAny(queryPaints(db, *tick, *limit))
	case "transitions":
		rows, err = asAny(queryTransitions(db, *agentID, *limit))
	case "tuning":
		var r configRow
		r, err = queryConfig(db, "tuning")
		rows = []any{r}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want ticks|paints|transitions|tuning)")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

func asAny[T any](in []T, err error) ([]any, error) {
	out := make([]any, len(in))
	for i := range in {
		out[i] = in[i]
	}
	return out, err
}

type tickRow struct {
	Tick     int64  `json:"tick"`
	Digest   string `json:"digest"`
	Paints   int    `json:"paints"`
	Empty    int    `json:"empty"`
	Bedrock  int    `json:"bedrock"`
	Sand     int    `json:"sand"`
	AntiSand int    `json:"antisand"`
	Water    int    `json:"water"`
	Wood     int    `json:"wood"`
	Tree     int    `json:"tree"`
}

// queryTicks returns the most recent ticks first.
func queryTicks(db *sql.DB, limit int) ([]tickRow, error) {
	rows, err := db.Query(`SELECT tick,digest,paints,empty,bedrock,sand,antisand,water,wood,tree FROM ticks ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tickRow
	for rows.Next() {
		var r tickRow
		if err := rows.Scan(&r.Tick, &r.Digest, &r.Paints, &r.Empty, &r.Bedrock, &r.Sand, &r.AntiSand, &r.Water, &r.Wood, &r.Tree); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type paintRow struct {
	Tick     int64  `json:"tick"`
	Seq      int    `json:"seq"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	R        int    `json:"r"`
	Material string `json:"material"`
}

// queryPaints returns strokes newest first; tick < 0 means every tick.
func queryPaints(db *sql.DB, tick int64, limit int) ([]paintRow, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if tick >= 0 {
		rows, err = db.Query(`SELECT tick,seq,x,y,r,material FROM paints WHERE tick=? ORDER BY seq LIMIT ?`, tick, limit)
	} else {
		rows, err = db.Query(`SELECT tick,seq,x,y,r,material FROM paints ORDER BY tick DESC, seq LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []paintRow
	for rows.Next() {
		var r paintRow
		if err := rows.Scan(&r.Tick, &r.Seq, &r.X, &r.Y, &r.R, &r.Material); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type transitionRow struct {
	Tick  int64  `json:"tick"`
	Seq   int    `json:"seq"`
	Agent int    `json:"agent"`
	From  string `json:"from"`
	To    string `json:"to"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
}

// queryTransitions returns job changes newest first; agent < 0 means every agent.
func queryTransitions(db *sql.DB, agent int, limit int) ([]transitionRow, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if agent >= 0 {
		rows, err = db.Query(`SELECT tick,seq,agent,from_job,to_job,x,y FROM transitions WHERE agent=? ORDER BY tick DESC, seq DESC LIMIT ?`, agent, limit)
	} else {
		rows, err = db.Query(`SELECT tick,seq,agent,from_job,to_job,x,y FROM transitions ORDER BY tick DESC, seq DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []transitionRow
	for rows.Next() {
		var r transitionRow
		if err := rows.Scan(&r.Tick, &r.Seq, &r.Agent, &r.From, &r.To, &r.X, &r.Y); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type configRow struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func queryConfig(db *sql.DB, name string) (configRow, error) {
	var r configRow
	err := db.QueryRow(`SELECT name,digest,json,updated_at FROM configs WHERE name=?`, name).Scan(&r.Name, &r.Digest, &r.JSON, &r.UpdatedAt)
	return r, err
}
