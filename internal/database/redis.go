package database

import (
	"context"
	"fmt"
	"time"

	"github.com/hypernova-labs/fiscal-service/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis representa la conexión a Redis
type Redis struct {
	*redis.Client
}

// ConnectRedis establece la conexión a Redis
func ConnectRedis(cfg *config.Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	// Verificar conexión
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("error pinging Redis: %w", err)
	}

	return &Redis{client}, nil
}

// Close cierra la conexión a Redis
func (r *Redis) Close() error {
	return r.Client.Close()
}

// HealthCheck verifica la salud de Redis
func (r *Redis) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	
	return r.Ping(ctx).Err()
}

// GetStats retorna estadísticas de Redis
func (r *Redis) GetStats() map[string]interface{} {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats := make(map[string]interface{})
	
	// Obtener estadísticas básicas
	if info, err := r.Info(ctx, "stats").Result(); err == nil {
		stats["info"] = info
	}

	// Obtener memoria
	if mem, err := r.Info(ctx, "memory").Result(); err == nil {
		stats["memory"] = mem
	}

	// Obtener clientes
	if clients, err := r.Info(ctx, "clients").Result(); err == nil {
		stats["clients"] = clients
	}

	return stats
}

// AcquireLease intenta tomar un lease con SETNX. Retorna true si esta
// instancia lo obtuvo; otra instancia lo tiene mientras viva el TTL.
func (r *Redis) AcquireLease(key string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.Client.SetNX(ctx, key, "1", ttl).Result()
}

// ReleaseLease libera un lease tomado con AcquireLease
func (r *Redis) ReleaseLease(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.Client.Del(ctx, key).Err()
}

// LogStats registra las estadísticas de Redis
func (r *Redis) LogStats(logger *logrus.Logger) {
	stats := r.GetStats()
	logger.WithFields(logrus.Fields(stats)).Info("Redis statistics")
}
