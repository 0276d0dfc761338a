package zkstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ValentinKolb/dShard/lib/store"
	"github.com/go-zookeeper/zk"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

const headerSize = 8

// conn is the part of *zk.Conn used by the store.
type conn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Exists(path string) (bool, *zk.Stat, error)
	Delete(path string, version int32) error
}

type storeImpl struct {
	conn conn
	root string
	acl  []zk.ACL
	now  func() time.Time
}

// Config describes the ZooKeeper ensemble and the root node of the store.
type Config struct {
	Servers        []string
	Root           string
	SessionTimeout time.Duration
}

// NewZKStore connects to the ensemble and makes sure the root node exists.
// The returned close function ends the session.
func NewZKStore(cfg Config) (store.IStore, func(), error) {
	if len(cfg.Servers) == 0 {
		return nil, nil, fmt.Errorf("zkstore: no servers configured")
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 5 * time.Second
	}
	c, _, err := zk.Connect(cfg.Servers, cfg.SessionTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("zk connect: %w", err)
	}
	s := newStore(c, cfg.Root)
	if err := s.ensurePath(s.root); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("ensure root %s: %w", s.root, err)
	}
	log.Infof("connected to zookeeper %v (root %s)", cfg.Servers, s.root)
	return s, c.Close, nil
}

func newStore(c conn, root string) *storeImpl {
	root = "/" + strings.Trim(root, "/")
	if root == "/" {
		root = "/dshard"
	}
	return &storeImpl{
		conn: c,
		root: root,
		acl:  zk.WorldACL(zk.PermAll),
		now:  time.Now,
	}
}

func (s *storeImpl) ensurePath(path string) error {
	cur := ""
	for _, p := range strings.Split(path, "/") {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := s.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = s.conn.Create(cur, nil, 0, s.acl)
			if err != nil && !errors.Is(err, zk.ErrNodeExists) {
				return err
			}
		}
	}
	return nil
}

func (s *storeImpl) path(key string) string {
	return s.root + "/" + url.PathEscape(key)
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

func (s *storeImpl) encode(value []byte, expireIn uint64) []byte {
	data := make([]byte, headerSize+len(value))
	if expireIn > 0 {
		binary.BigEndian.PutUint64(data, uint64(s.now().Unix())+expireIn)
	}
	copy(data[headerSize:], value)
	return data
}

// decode returns the value and whether it is expired.
func (s *storeImpl) decode(data []byte) ([]byte, bool) {
	if len(data) < headerSize {
		return data, false
	}
	expireAt := binary.BigEndian.Uint64(data)
	expired := expireAt != 0 && uint64(s.now().Unix()) >= expireAt
	return data[headerSize:], expired
}

func wrap(op string, err error) error {
	if errors.Is(err, zk.ErrConnectionClosed) || errors.Is(err, zk.ErrNoServer) || errors.Is(err, zk.ErrSessionExpired) {
		return store.NewError(store.RetCUnavailable, fmt.Sprintf("%s: %v", op, err))
	}
	return store.NewError(store.RetCInternalError, fmt.Sprintf("%s: %v", op, err))
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	return s.SetE(key, value, 0, 0)
}

func (s *storeImpl) SetE(key string, value []byte, expireIn, deleteIn uint64) error {
	p := s.path(key)
	data := s.encode(value, expireIn)

	if deleteIn > 0 {
		// ephemeral nodes can not be converted, recreate them
		if err := s.conn.Delete(p, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
			return wrap("set", err)
		}
		if _, err := s.conn.Create(p, data, zk.FlagEphemeral, s.acl); err != nil {
			return wrap("set", err)
		}
		return nil
	}

	_, err := s.conn.Set(p, data, -1)
	if errors.Is(err, zk.ErrNoNode) {
		_, err = s.conn.Create(p, data, 0, s.acl)
		if errors.Is(err, zk.ErrNodeExists) {
			_, err = s.conn.Set(p, data, -1)
		}
	}
	if err != nil {
		return wrap("set", err)
	}
	return nil
}

func (s *storeImpl) SetEIfUnset(key string, value []byte, expireIn, deleteIn uint64) error {
	var flags int32
	if deleteIn > 0 {
		flags = zk.FlagEphemeral
	}
	_, err := s.conn.Create(s.path(key), s.encode(value, expireIn), flags, s.acl)
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return wrap("setEIfUnset", err)
	}
	return nil
}

func (s *storeImpl) Expire(key string) error {
	p := s.path(key)
	data, stat, err := s.conn.Get(p)
	if errors.Is(err, zk.ErrNoNode) {
		return nil
	}
	if err != nil {
		return wrap("expire", err)
	}
	value, _ := s.decode(data)
	expired := make([]byte, headerSize+len(value))
	binary.BigEndian.PutUint64(expired, uint64(s.now().Unix()))
	copy(expired[headerSize:], value)
	if _, err := s.conn.Set(p, expired, stat.Version); err != nil && !errors.Is(err, zk.ErrNoNode) {
		return wrap("expire", err)
	}
	return nil
}

func (s *storeImpl) Delete(key string) error {
	if err := s.conn.Delete(s.path(key), -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		return wrap("delete", err)
	}
	return nil
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	data, _, err := s.conn.Get(s.path(key))
	if errors.Is(err, zk.ErrNoNode) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("get", err)
	}
	value, expired := s.decode(data)
	if expired {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	exists, _, err := s.conn.Exists(s.path(key))
	if err != nil {
		return false, wrap("has", err)
	}
	return exists, nil
}
