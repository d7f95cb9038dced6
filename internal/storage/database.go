package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"nudgebot/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch Normalize(dbType) {
	case DialectSQLite:
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// every :memory: connection is a separate database
		if strings.Contains(dbCfg.DSN, ":memory:") {
			db.SetMaxOpenConns(1)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case DialectMySQL:
		params := dbCfg.Params
		if params == "" {
			params = "parseTime=true&charset=utf8mb4"
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch Normalize(driver) {
	case DialectSQLite:
		stmts = sqliteSchema
	case DialectMySQL:
		stmts = mysqlSchema
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		notifications_enabled INTEGER NOT NULL DEFAULT 1,
		group_scope TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL,
		display_name TEXT NOT NULL,
		FOREIGN KEY(organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS workspaces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		FOREIGN KEY(organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS workspace_members (
		workspace_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		UNIQUE(workspace_id, user_id),
		FOREIGN KEY(workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL,
		workspace_id INTEGER NOT NULL,
		code TEXT NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		assignee_id INTEGER,
		completed_by INTEGER,
		due_at DATETIME,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(organization_id) REFERENCES organizations(id) ON DELETE CASCADE,
		FOREIGN KEY(workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id, status)`,
	`CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL,
		workspace_id INTEGER NOT NULL,
		code TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		notified_content TEXT NOT NULL DEFAULT '',
		updated_by INTEGER,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(organization_id) REFERENCES organizations(id) ON DELETE CASCADE,
		FOREIGN KEY(workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		author_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(task_id) REFERENCES tasks(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		file_name TEXT NOT NULL,
		stored_path TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		persona TEXT NOT NULL DEFAULT '',
		behavior_constraint TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'chat',
		active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS organization_bots (
		organization_id INTEGER NOT NULL,
		bot_id INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		UNIQUE(organization_id, bot_id),
		FOREIGN KEY(organization_id) REFERENCES organizations(id) ON DELETE CASCADE,
		FOREIGN KEY(bot_id) REFERENCES bots(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS chat_actors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL,
		user_id INTEGER,
		bot_id INTEGER,
		UNIQUE(organization_id, user_id),
		UNIQUE(organization_id, bot_id),
		FOREIGN KEY(organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		room_key TEXT NOT NULL UNIQUE,
		workspace_id INTEGER,
		title TEXT NOT NULL DEFAULT '',
		last_activity_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS room_members (
		room_id INTEGER NOT NULL,
		actor_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		unread_count INTEGER NOT NULL DEFAULT 0,
		joined_at DATETIME NOT NULL,
		UNIQUE(room_id, actor_id),
		FOREIGN KEY(room_id) REFERENCES rooms(id) ON DELETE CASCADE,
		FOREIGN KEY(actor_id) REFERENCES chat_actors(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL,
		sender_actor_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(room_id) REFERENCES rooms(id) ON DELETE CASCADE,
		FOREIGN KEY(sender_actor_id) REFERENCES chat_actors(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id)`,
	`CREATE TABLE IF NOT EXISTS notification_deliveries (
		dedupe_key TEXT PRIMARY KEY,
		message_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS service_tokens (
		token TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id BIGINT NOT NULL AUTO_INCREMENT,
		name VARCHAR(255) NOT NULL,
		notifications_enabled TINYINT(1) NOT NULL DEFAULT 1,
		group_scope VARCHAR(32) NOT NULL DEFAULT '',
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT NOT NULL AUTO_INCREMENT,
		organization_id BIGINT NOT NULL,
		display_name VARCHAR(255) NOT NULL,
		PRIMARY KEY (id),
		CONSTRAINT fk_users_org FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS workspaces (
		id BIGINT NOT NULL AUTO_INCREMENT,
		organization_id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL,
		PRIMARY KEY (id),
		CONSTRAINT fk_workspaces_org FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS workspace_members (
		workspace_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		UNIQUE KEY uniq_workspace_user (workspace_id, user_id),
		CONSTRAINT fk_wm_workspace FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE,
		CONSTRAINT fk_wm_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id BIGINT NOT NULL AUTO_INCREMENT,
		organization_id BIGINT NOT NULL,
		workspace_id BIGINT NOT NULL,
		code VARCHAR(64) NOT NULL,
		title VARCHAR(512) NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT 'open',
		assignee_id BIGINT NULL,
		completed_by BIGINT NULL,
		due_at DATETIME(6) NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_tasks_assignee (assignee_id, status),
		CONSTRAINT fk_tasks_org FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE,
		CONSTRAINT fk_tasks_workspace FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS items (
		id BIGINT NOT NULL AUTO_INCREMENT,
		organization_id BIGINT NOT NULL,
		workspace_id BIGINT NOT NULL,
		code VARCHAR(64) NOT NULL,
		title VARCHAR(512) NOT NULL,
		content MEDIUMTEXT NOT NULL,
		notified_content MEDIUMTEXT NOT NULL,
		updated_by BIGINT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		CONSTRAINT fk_items_org FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE,
		CONSTRAINT fk_items_workspace FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS comments (
		id BIGINT NOT NULL AUTO_INCREMENT,
		task_id BIGINT NOT NULL,
		author_id BIGINT NOT NULL,
		kind VARCHAR(32) NOT NULL,
		body MEDIUMTEXT NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		CONSTRAINT fk_comments_task FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id BIGINT NOT NULL AUTO_INCREMENT,
		organization_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		file_name VARCHAR(255) NOT NULL,
		stored_path TEXT NOT NULL,
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS bots (
		id BIGINT NOT NULL AUTO_INCREMENT,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		persona TEXT NOT NULL,
		behavior_constraint TEXT NOT NULL,
		category VARCHAR(32) NOT NULL DEFAULT 'chat',
		active TINYINT(1) NOT NULL DEFAULT 1,
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS organization_bots (
		organization_id BIGINT NOT NULL,
		bot_id BIGINT NOT NULL,
		active TINYINT(1) NOT NULL DEFAULT 1,
		UNIQUE KEY uniq_org_bot (organization_id, bot_id),
		CONSTRAINT fk_ob_org FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE,
		CONSTRAINT fk_ob_bot FOREIGN KEY (bot_id) REFERENCES bots(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS chat_actors (
		id BIGINT NOT NULL AUTO_INCREMENT,
		organization_id BIGINT NOT NULL,
		user_id BIGINT NULL,
		bot_id BIGINT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uniq_actor_user (organization_id, user_id),
		UNIQUE KEY uniq_actor_bot (organization_id, bot_id),
		CONSTRAINT fk_actors_org FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id BIGINT NOT NULL AUTO_INCREMENT,
		organization_id BIGINT NOT NULL,
		kind VARCHAR(32) NOT NULL,
		room_key VARCHAR(191) NOT NULL,
		workspace_id BIGINT NULL,
		title VARCHAR(255) NOT NULL DEFAULT '',
		last_activity_at DATETIME(6) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uniq_room_key (room_key),
		CONSTRAINT fk_rooms_org FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS room_members (
		room_id BIGINT NOT NULL,
		actor_id BIGINT NOT NULL,
		role VARCHAR(32) NOT NULL,
		unread_count INT NOT NULL DEFAULT 0,
		joined_at DATETIME(6) NOT NULL,
		UNIQUE KEY uniq_room_actor (room_id, actor_id),
		CONSTRAINT fk_rm_room FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE,
		CONSTRAINT fk_rm_actor FOREIGN KEY (actor_id) REFERENCES chat_actors(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGINT NOT NULL AUTO_INCREMENT,
		room_id BIGINT NOT NULL,
		sender_actor_id BIGINT NOT NULL,
		kind VARCHAR(32) NOT NULL,
		content MEDIUMTEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_messages_room (room_id, id),
		CONSTRAINT fk_messages_room FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE,
		CONSTRAINT fk_messages_sender FOREIGN KEY (sender_actor_id) REFERENCES chat_actors(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS notification_deliveries (
		dedupe_key VARCHAR(191) NOT NULL PRIMARY KEY,
		message_id BIGINT NOT NULL,
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS service_tokens (
		token VARCHAR(255) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		expires_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
