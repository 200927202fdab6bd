package repository

import (
	"github.com/vibast-solutions/ms-go-accounts/app/entity"
)

const (
	UsersTable        = "users"
	UserColID         = "id"
	UserColFirstName  = "first_name"
	UserColLastName   = "last_name"
	UserColEmail      = "email"
	UserColPassword   = "password_hash"
	UserColResetToken = "reset_token"
)

// UserSchema maps entity.User onto the users table.
var UserSchema = &Schema[entity.User]{
	Table: UsersTable,
	Key:   UserColID,
	Columns: []string{
		UserColID,
		UserColFirstName,
		UserColLastName,
		UserColEmail,
		UserColPassword,
		UserColResetToken,
	},
	Scan: scanUser,
}

// UserRepository is the users binding of the generic repository.
type UserRepository = Repository[entity.User]

func NewUserRepository(conn Conn) *UserRepository {
	return New(UserSchema, conn)
}

func scanUser(scan RowScanner) (*entity.User, error) {
	user := &entity.User{}
	if err := scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.PasswordHash,
		&user.ResetToken,
	); err != nil {
		return nil, err
	}
	return user, nil
}

// UserInsertFields lists the columns written when a user row is created.
func UserInsertFields(user *entity.User) Fields {
	return Fields{
		F(UserColFirstName, user.FirstName),
		F(UserColLastName, user.LastName),
		F(UserColEmail, user.Email),
		F(UserColPassword, user.PasswordHash),
	}
}
