package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	actor := fs.String("actor", "", "actor filter (audits)")
	action := fs.String("action", "", "action filter (audits)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "radio.sqlite")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	var rows []map[string]any
	switch q {
	case "snapshots":
		rows, err = queryRows(db, `SELECT tick,path,devices,channels,created FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
	case "devices":
		rows, err = queryRows(db, `SELECT player_id,tier,charge,updated_at FROM devices ORDER BY player_id LIMIT ?`, *limit)
	case "channels":
		rows, err = queryRows(db, `SELECT channel_id,creator,version FROM channels ORDER BY channel_id LIMIT ?`, *limit)
	case "ticks":
		rows, err = queryRows(db, `SELECT tick,players,arrivals,flushed FROM ticks ORDER BY tick DESC LIMIT ?`, *limit)
	case "audits":
		rows, err = queryRows(db, `SELECT tick,seq,actor,action,target,reason,raw_json FROM audits
			WHERE (?='' OR actor=?) AND (?='' OR action=?)
			ORDER BY tick DESC, seq DESC LIMIT ?`, *actor, *actor, *action, *action, *limit)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "queries: snapshots | devices | channels | ticks | audits")
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

// queryRows scans every row into a column-name map. raw_json columns are decoded in place.
func queryRows(db *sql.DB, query string, args ...any) ([]map[string]any, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			if s, ok := v.(string); ok && c == "raw_json" {
				var raw any
				if json.Unmarshal([]byte(s), &raw) == nil {
					v = raw
				}
			}
			m[c] = v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func metricsCmd(args []string) {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/metrics"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Print(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "json:", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}
