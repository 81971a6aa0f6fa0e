package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/picmetahq/picmeta/internal/pkg/cache"
	"github.com/picmetahq/picmeta/internal/pkg/database"
)

const keyRequestsKey = "appkey:counters:requests"

// AddKeyRequest increments the pending request counter for an app key in Redis
func AddKeyRequest(rawKey string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, keyRequestsKey, rawKey, 1).Err()
}

// FlushAll flushes the pending request counters to the database
func FlushAll() error {
	return flushRequestCounters()
}

// flushRequestCounters drains the Redis hash atomically and applies batched
// increments to app_keys.request_count. Uses RENAME to a temporary key for
// atomic drain without losing in-flight increments.
func flushRequestCounters() error {
	ctx := context.Background()
	rdb := cache.GetClient()

	// Atomically move the hash to a temp key for draining
	tmpKey := fmt.Sprintf("%s:tmp:%d", keyRequestsKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", keyRequestsKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	type pair struct {
		rawKey string
		inc    int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{rawKey: k, inc: inc})
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].rawKey < pairs[j].rawKey })

	// Compose SQL
	// UPDATE app_keys SET request_count = request_count + CASE `key` WHEN ? THEN ? ... END WHERE `key` IN ( ... )
	// Counters for keys that were deleted in the meantime simply match no row.
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	builder.WriteString("UPDATE app_keys SET request_count = request_count + CASE `key` ")
	for _, p := range pairs {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, p.rawKey, p.inc)
	}
	builder.WriteString(" END WHERE `key` IN (")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, p.rawKey)
	}
	builder.WriteString(")")

	db := database.GetDB()
	if err := db.Exec(builder.String(), args...).Error; err != nil {
		return err
	}
	return nil
}
