package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/example/pet-ride/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisGeo implements Geo using Redis GEO commands.
type RedisGeo struct {
	client  *redis.Client
	key     string
	radiusM float64
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisGeoFromClient(c, key)
}

func NewRedisGeoFromClient(c *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: c, key: key, radiusM: 5000}
}

func (r *RedisGeo) Upsert(ctx context.Context, d models.DriverLocation) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Lng, Latitude: d.Lat, Name: d.DriverID}).Result(); err != nil {
		return fmt.Errorf("geoadd %s: %w", d.DriverID, err)
	}
	fields := map[string]interface{}{"updated": time.Now().Format(time.RFC3339)}
	if d.Online {
		fields["online"] = "true"
	}
	return r.client.HSet(ctx, metaKey(d.DriverID), fields).Err()
}

func (r *RedisGeo) SetOnline(ctx context.Context, driverID string, online bool) error {
	return r.client.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"online":  strconv.FormatBool(online),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Nearby(ctx context.Context, lat, lng float64, limit int) ([]models.DriverLocation, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lng, lat, &redis.GeoRadiusQuery{Radius: r.radiusM, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverLocation, 0, len(res))
	for _, g := range res {
		d := models.DriverLocation{DriverID: g.Name, Lat: g.Latitude, Lng: g.Longitude}
		r.hydrate(ctx, &d)
		if !d.Online {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *RedisGeo) All(ctx context.Context) ([]models.DriverLocation, error) {
	names, err := r.client.ZRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	pos, err := r.client.GeoPos(ctx, r.key, names...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverLocation, 0, len(names))
	for i, name := range names {
		if i >= len(pos) || pos[i] == nil {
			continue
		}
		d := models.DriverLocation{DriverID: name, Lat: pos[i].Latitude, Lng: pos[i].Longitude}
		r.hydrate(ctx, &d)
		out = append(out, d)
	}
	return out, nil
}

func (r *RedisGeo) hydrate(ctx context.Context, d *models.DriverLocation) {
	m, err := r.client.HGetAll(ctx, metaKey(d.DriverID)).Result()
	if err != nil {
		return
	}
	d.Online = m["online"] == "true"
	if v, ok := m["updated"]; ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			d.UpdatedAt = ts
		}
	}
}

func metaKey(id string) string { return "driver:meta:" + id }
