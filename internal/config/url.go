package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// buildDatabaseURL 由 database 段拼出连接串，password 只来自环境变量
func buildDatabaseURL(db DatabaseConfig, password string) string {
	switch strings.ToLower(db.Driver) {
	case "sqlite":
		path := db.Path
		if path == "" {
			path = "codec-bench.db"
		}
		return fmt.Sprintf("file:%s?cache=shared&mode=rwc", path)
	case "mongodb":
		if db.URI != "" {
			return db.URI
		}
		u := &url.URL{Scheme: "mongodb", User: userinfo(db.User, password), Host: hostPort(db.Host, db.Port)}
		return u.String()
	default:
		u := &url.URL{
			Scheme:   "postgres",
			User:     userinfo(db.User, password),
			Host:     hostPort(db.Host, db.Port),
			Path:     "/" + db.Name,
			RawQuery: url.Values{"sslmode": {db.SSLMode}}.Encode(),
		}
		return u.String()
	}
}

// detectDatabaseDriver DATABASE_URL 的 scheme 优先于 YAML 的 driver，未知时回退 sqlite
func detectDatabaseDriver(yamlDriver, databaseURL string) string {
	if scheme, _, ok := strings.Cut(databaseURL, ":"); ok {
		switch scheme {
		case "file", "sqlite":
			return "sqlite"
		case "postgres", "postgresql":
			return "postgres"
		case "mongodb", "mongodb+srv":
			return "mongodb"
		}
	}
	switch d := strings.ToLower(yamlDriver); d {
	case "sqlite", "postgres", "mongodb":
		return d
	}
	return "sqlite"
}

// buildRedisURL url 字段优先，否则由 host/port/db/password 拼出
func buildRedisURL(r RedisConfig) string {
	if r.URL != "" {
		return r.URL
	}
	u := &url.URL{Scheme: "redis", Host: hostPort(r.Host, r.Port), Path: "/" + strconv.Itoa(r.DB)}
	if r.Password != "" {
		u.User = url.UserPassword("", r.Password)
	}
	return u.String()
}

// maskPassword 日志输出前隐藏连接串中的密码
func maskPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

func userinfo(user, password string) *url.Userinfo {
	switch {
	case user == "":
		return nil
	case password == "":
		return url.User(user)
	}
	return url.UserPassword(user, password)
}

func hostPort(host string, port int) string {
	if port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
