package repository

import (
	"context"
	"errors"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type userRepository struct {
	db *mongo.Database
}

func NewUserRepository(db *mongo.Database) domain.UserRepository {
	return &userRepository{
		db: db,
	}
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	collection := r.db.Collection(db.UsersCollection)

	var user domain.User
	if err := collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Save(ctx context.Context, user domain.User) error {
	collection := r.db.Collection(db.UsersCollection)

	_, err := collection.UpdateOne(ctx,
		bson.M{"_id": user.ID},
		bson.M{"$set": bson.M{"name": user.Name, "email": user.Email}},
		options.Update().SetUpsert(true),
	)
	return err
}

type fileRepository struct {
	db *mongo.Database
}

func NewFileRepository(db *mongo.Database) domain.FileRepository {
	return &fileRepository{
		db: db,
	}
}

func (r *fileRepository) GetByID(ctx context.Context, id string) (*domain.File, error) {
	collection := r.db.Collection(db.FilesCollection)

	var file domain.File
	if err := collection.FindOne(ctx, bson.M{"_id": id}).Decode(&file); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrFileNotFound
		}
		return nil, err
	}
	return &file, nil
}
