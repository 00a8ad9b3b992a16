package user

import (
	"database/sql"
)

type Saver interface {
	SaveUser(tx *sql.Tx, user *User) error
}

type Provider interface {
	UserByID(id int64) (*User, error)
	UserByUsername(username string) (*User, error)
}

type Updater interface {
	UpdatePreferences(tx *sql.Tx, userID int64, description, imageFile string) error
}

type Storage interface {
	Saver
	Provider
	Updater
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

func (r *PostgresStorage) SaveUser(tx *sql.Tx, user *User) error {
	return tx.QueryRow(`
		INSERT INTO users (username, password_hash, description, image_file, is_admin, is_tester, is_verified, reg_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		user.Username, user.PasswordHash, user.Description, user.ImageFile,
		user.IsAdmin, user.IsTester, user.IsVerified, user.RegTime).Scan(&user.ID)
}

func (r *PostgresStorage) UserByID(id int64) (*User, error) {
	return r.scanUser(r.db.QueryRow(userColumns+" WHERE id = $1", id))
}

func (r *PostgresStorage) UserByUsername(username string) (*User, error) {
	return r.scanUser(r.db.QueryRow(userColumns+" WHERE username = $1", username))
}

func (r *PostgresStorage) UpdatePreferences(tx *sql.Tx, userID int64, description, imageFile string) error {
	_, err := tx.Exec("UPDATE users SET description = $1, image_file = $2 WHERE id = $3",
		description, imageFile, userID)
	return err
}

const userColumns = `
	SELECT id, username, password_hash, description, image_file, COALESCE(rank, ''),
	       is_admin, is_tester, is_verified, reg_time
	FROM users`

func (r *PostgresStorage) scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Description,
		&user.ImageFile, &user.Rank, &user.IsAdmin, &user.IsTester, &user.IsVerified,
		&user.RegTime)
	if err != nil {
		return nil, err
	}
	return user, nil
}
