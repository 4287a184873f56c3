package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/img-warp/img-warp/internal/server"
	"github.com/img-warp/img-warp/internal/variant"
	"github.com/img-warp/img-warp/internal/version"
)

// RegisterStatusRoutes 暴露 /-/status 诊断接口，供 SRE 查询运行模式与缓存规模。
func RegisterStatusRoutes(app *fiber.App, table *variant.Table, stats server.CacheStats) {
	if app == nil || table == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := statusPayload{
			Version: version.Full(),
			Mode:    string(table.Mode()),
		}
		for _, v := range table.Configured() {
			payload.Variants = append(payload.Variants, v.String())
		}
		if stats != nil {
			payload.Cache = &cacheStatsPayload{
				Entries:    stats.Len(),
				TotalBytes: stats.TotalBytes(),
			}
		}
		return c.JSON(payload)
	})
}

type statusPayload struct {
	Version  string             `json:"version"`
	Mode     string             `json:"mode"`
	Variants []string           `json:"variants"`
	Cache    *cacheStatsPayload `json:"cache,omitempty"`
}

type cacheStatsPayload struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
}
