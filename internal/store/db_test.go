package store

import (
	"database/sql"
	"testing"
	"time"
)

func TestPoolConfigDefaults(t *testing.T) {
	cases := []struct {
		name string
		in   PoolConfig
		want PoolConfig
	}{
		{
			name: "zero value",
			want: PoolConfig{MaxOpenConns: 20, MaxIdleConns: 10, ConnMaxLifetime: 30 * time.Minute, ConnMaxIdleTime: 5 * time.Minute},
		},
		{
			name: "explicit values kept",
			in:   PoolConfig{MaxOpenConns: 50, MaxIdleConns: 25, ConnMaxLifetime: time.Hour, ConnMaxIdleTime: time.Minute},
			want: PoolConfig{MaxOpenConns: 50, MaxIdleConns: 25, ConnMaxLifetime: time.Hour, ConnMaxIdleTime: time.Minute},
		},
		{
			name: "idle capped at open",
			in:   PoolConfig{MaxOpenConns: 4},
			want: PoolConfig{MaxOpenConns: 4, MaxIdleConns: 4, ConnMaxLifetime: 30 * time.Minute, ConnMaxIdleTime: 5 * time.Minute},
		},
		{
			name: "negative treated as unset",
			in:   PoolConfig{MaxOpenConns: -1, MaxIdleConns: -1, ConnMaxLifetime: -time.Second},
			want: PoolConfig{MaxOpenConns: 20, MaxIdleConns: 10, ConnMaxLifetime: 30 * time.Minute, ConnMaxIdleTime: 5 * time.Minute},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.in.withDefaults(); got != tc.want {
				t.Fatalf("withDefaults() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestPoolConfigApply(t *testing.T) {
	// sql.Open does not dial, so no server is needed here
	db, err := sql.Open("pgx", "postgres://taskhub@127.0.0.1:1/taskhub?sslmode=disable")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	PoolConfig{MaxOpenConns: 7}.apply(db)
	if got := db.Stats().MaxOpenConnections; got != 7 {
		t.Fatalf("MaxOpenConnections = %d, want 7", got)
	}
}
