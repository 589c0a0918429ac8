package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"mapedit/internal/config"
	"mapedit/internal/geotext"
	"mapedit/internal/logger"
	"mapedit/internal/shapefile"
	"mapedit/internal/urlstate"
	"mapedit/internal/wmts"
)

var errUsage = errors.New("usage")

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  shp2json <in.zip> [out.geojson]   shapefile zip -> GeoJSON FeatureCollection")
	fmt.Fprintln(w, "  json2shp <in.geojson> <out.zip>   GeoJSON -> shapefile zip (WGS84)")
	fmt.Fprintln(w, "  encode <in.geojson>               GeoJSON -> geo url parameter")
	fmt.Fprintln(w, "  decode <param>                    geo url parameter -> GeoJSON")
	fmt.Fprintln(w, "  layers [capabilities-url]         list WMTS layers (WMTS_API_KEY, config/ defaults)")
}

// 文档注释：离线转换工具
// 背景：与编辑器共用同一套编解码，便于批量处理文件或排查地址栏中的 geo 参数
// 约束：输出文件缺省时写到标准输出；错误写到标准错误并以 1 退出
func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	logger.Setup()
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printHelp(os.Stderr)
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "shp2json":
		if len(args) < 2 {
			return errUsage
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		c, err := shapefile.Import(data)
		if err != nil {
			return err
		}
		text, err := geotext.Pretty(c)
		if err != nil {
			return err
		}
		return output(args, 2, stdout, []byte(text+"\n"))
	case "json2shp":
		if len(args) < 3 {
			return errUsage
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		c, err := geotext.ParseForExport(string(data))
		if err != nil {
			return err
		}
		zip, err := shapefile.Export(c)
		if err != nil {
			return fmt.Errorf("Failed to export shapefile: %w", err)
		}
		return os.WriteFile(args[2], zip, 0o644)
	case "encode":
		if len(args) < 2 {
			return errUsage
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		param, err := urlstate.EncodeGeo(string(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, param)
		return err
	case "decode":
		if len(args) < 2 {
			return errUsage
		}
		v, err := urlstate.DecodeGeo(args[1])
		if err != nil {
			return err
		}
		text, err := geotext.Pretty(v)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, text)
		return err
	case "layers":
		return listLayers(ctx, args[1:], stdout)
	case "help":
		printHelp(stdout)
		return nil
	}
	return errUsage
}

// output：args[i] 为输出路径时写文件，否则写标准输出
func output(args []string, i int, stdout io.Writer, data []byte) error {
	if len(args) > i && args[i] != "-" {
		return os.WriteFile(args[i], data, 0o644)
	}
	_, err := stdout.Write(data)
	return err
}

// listLayers：拉取能力文档并按配置的默认图层标出初始选择
func listLayers(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	u := cfg.App.WMTSCapabilitiesURL
	if len(args) > 0 {
		u = args[0]
	}
	if u == "" {
		return wmts.ErrMissingURL
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cache := wmts.NewCache(&http.Client{Timeout: 20 * time.Second}, nil, nil)
	caps, err := cache.Load(ctx, u, cfg.App.WMTSAPIKey)
	if err != nil {
		return err
	}
	cat := wmts.NewCatalog(caps, config.PreferredCRS(cfg.App.MapProjection), cfg.App.DefaultWMTSLayers)
	selected := map[string]bool{}
	for _, id := range cat.Selected() {
		selected[id] = true
	}
	for _, o := range cat.Options() {
		mark := " "
		if selected[o.ID] {
			mark = "*"
		}
		fmt.Fprintf(stdout, "%s %s\t%s\t%v\n", mark, o.ID, o.Title, o.MatrixSets)
	}
	return nil
}
