package handler

import "github.com/vinllen/mgo"

// bulkOps is the subset of *mgo.Bulk's API BulkWrite drives, narrowed to
// an interface so tests can substitute a fake bulk operation instead of
// issuing one against a live mongod.
type bulkOps interface {
	Unordered()
	Upsert(pairs ...interface{})
	Update(pairs ...interface{})
	Remove(selectors ...interface{})
	Run() (*mgo.BulkResult, error)
}

// collectionOps is the subset of *mgo.Collection's API Writer drives.
type collectionOps interface {
	Bulk() bulkOps
	Upsert(selector, update interface{}) (*mgo.ChangeInfo, error)
	Update(selector, update interface{}) error
	Remove(selector interface{}) error
	RemoveAll(selector interface{}) (*mgo.ChangeInfo, error)
	Insert(docs ...interface{}) error
	FindOne(query, result interface{}) error
}

// databaseOps is the subset of *mgo.Database's API applyCommand drives.
type databaseOps interface {
	Run(cmd, result interface{}) error
}

// writerConn is the subset of *Connection's API Writer needs: obtaining a
// live session's database handles (or reporting none is available), and
// triggering reconnect on a transient failure. *Connection satisfies this
// directly; tests substitute a fake to exercise retry paths without
// dialing a live deployment.
type writerConn interface {
	Session() *mgo.Session
	Reconnect()
	IsMongos() bool
}

// mgoCollection adapts a live *mgo.Collection to collectionOps.
type mgoCollection struct{ c *mgo.Collection }

func (m mgoCollection) Bulk() bulkOps { return m.c.Bulk() }

func (m mgoCollection) Upsert(selector, update interface{}) (*mgo.ChangeInfo, error) {
	return m.c.Upsert(selector, update)
}

func (m mgoCollection) Update(selector, update interface{}) error {
	return m.c.Update(selector, update)
}

func (m mgoCollection) Remove(selector interface{}) error { return m.c.Remove(selector) }

func (m mgoCollection) RemoveAll(selector interface{}) (*mgo.ChangeInfo, error) {
	return m.c.RemoveAll(selector)
}

func (m mgoCollection) Insert(docs ...interface{}) error { return m.c.Insert(docs...) }

func (m mgoCollection) FindOne(query, result interface{}) error {
	return m.c.Find(query).One(result)
}

// mgoDatabase adapts a live *mgo.Database to databaseOps.
type mgoDatabase struct{ d *mgo.Database }

func (m mgoDatabase) Run(cmd, result interface{}) error { return m.d.Run(cmd, result) }
