package chaincode

import (
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/pkg/errors"

	"voter-ledger/storage"
)

// StubStore exposes a chaincode transaction's world state as a KVStore.
//
// Fabric commits a transaction's write set as a whole, so Write is atomic at
// commit time even though it issues one PutState per key. Reads never observe
// the transaction's own pending writes.
type StubStore struct {
	stub shim.ChaincodeStubInterface
}

var _ storage.KVStore = (*StubStore)(nil)

func NewStubStore(stub shim.ChaincodeStubInterface) *StubStore {
	return &StubStore{stub: stub}
}

func (s *StubStore) Get(key []byte) ([]byte, error) {
	value, err := s.stub.GetState(string(key))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s from world state", key)
	}
	return value, nil
}

func (s *StubStore) Iterate(start, end []byte, fn func(key, value []byte) bool) error {
	results, err := s.stub.GetStateByRange(string(start), string(end))
	if err != nil {
		return errors.Wrap(err, "failed to open range query")
	}
	defer results.Close()

	for results.HasNext() {
		kv, err := results.Next()
		if err != nil {
			return errors.Wrap(err, "failed to read range query result")
		}
		if !fn([]byte(kv.Key), kv.Value) {
			break
		}
	}
	return nil
}

func (s *StubStore) Write(writes []storage.KV) error {
	for _, w := range writes {
		if err := s.stub.PutState(string(w.Key), w.Value); err != nil {
			return errors.Wrapf(err, "failed to put %s to world state", w.Key)
		}
	}
	return nil
}

func (s *StubStore) Close() error {
	return nil
}
