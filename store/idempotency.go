package store

// IdempotentOrder returns the order number userID previously stored under
// an idempotency key. ok is false when that caller has not used the key.
// Anonymous callers share the empty userID.
//
// Checkout requests carry a client-generated key so that a retried request
// (after a timeout or a dropped connection) returns the order created by the
// first attempt instead of reserving stock a second time.
func (t *Tx) IdempotentOrder(userID, key string) (number string, ok bool) {
	v := t.tx.Bucket(bucketIdempotency).Get(idempotencyKey(userID, key))
	if v == nil {
		return "", false
	}
	return string(v), true
}

// PutIdempotencyKey binds userID's key to an order number. An already bound
// key is left untouched.
func (t *Tx) PutIdempotencyKey(userID, key, number string) error {
	b := t.tx.Bucket(bucketIdempotency)
	k := idempotencyKey(userID, key)
	if b.Get(k) != nil {
		return nil
	}
	return b.Put(k, []byte(number))
}

// idempotencyKey namespaces key by its owner; NUL cannot appear in a
// header value or a token subject.
func idempotencyKey(userID, key string) []byte {
	return []byte(userID + "\x00" + key)
}
