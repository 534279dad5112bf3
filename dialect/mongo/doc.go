// Package mongo implements the dialect.Adapter contract on a MongoDB
// database with go.mongodb.org/mongo-driver.
//
// Statements are database commands written in relaxed Extended JSON.
// Parameters are documents of the form {"__param": n}, counting from 1,
// and are replaced by the n-th argument before the command is sent, so
// arguments keep their BSON types (dates, ObjectIDs, decimals):
//
//	res, err := adapter.ExecuteQuery(ctx,
//		`{"find": "orders", "filter": {"status": {"__param": 1}}, "sort": {"_id": 1}}`,
//		[]any{"pending"})
//
// find and aggregate commands are iterated through every batch of their
// cursor; other commands return their reply document as the single row.
// ExecuteCommand reports the "n" field of the reply.
//
// Sessions are driver sessions; statements run inside the session's
// transaction while the session is carried by the context. MongoDB has no
// row locking clause: concurrent writers inside transactions fail with a
// write conflict instead.
package mongo
