package shared

import (
	"net/rpc"
)

// EmbedArgs are the arguments for the Embed RPC call.
type EmbedArgs struct {
	Texts []string
}

// EmbedReply is the reply for the Embed RPC call. Errors travel as
// strings: net/rpc cannot gob-encode arbitrary error values.
type EmbedReply struct {
	Embeddings [][]float32
	Error      string
}

type embeddingRPCClient struct {
	client *rpc.Client
}

var _ EmbeddingProvider = (*embeddingRPCClient)(nil)

func (c *embeddingRPCClient) Name() string {
	var resp string
	if err := c.client.Call("Plugin.Name", new(interface{}), &resp); err != nil {
		return ""
	}
	return resp
}

func (c *embeddingRPCClient) Embed(texts []string) ([][]float32, error) {
	var resp EmbedReply
	if err := c.client.Call("Plugin.Embed", &EmbedArgs{Texts: texts}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &PluginError{Message: resp.Error}
	}
	return resp.Embeddings, nil
}

func (c *embeddingRPCClient) Dimensions() int {
	var resp int
	if err := c.client.Call("Plugin.Dimensions", new(interface{}), &resp); err != nil {
		return 0
	}
	return resp
}

func (c *embeddingRPCClient) MaxBatchSize() int {
	var resp int
	if err := c.client.Call("Plugin.MaxBatchSize", new(interface{}), &resp); err != nil {
		return 1
	}
	return resp
}

func (c *embeddingRPCClient) Warmup() error {
	var resp string
	if err := c.client.Call("Plugin.Warmup", new(interface{}), &resp); err != nil {
		return err
	}
	if resp != "" {
		return &PluginError{Message: resp}
	}
	return nil
}

func (c *embeddingRPCClient) Close() error {
	var resp string
	if err := c.client.Call("Plugin.Close", new(interface{}), &resp); err != nil {
		return err
	}
	if resp != "" {
		return &PluginError{Message: resp}
	}
	return nil
}

type embeddingRPCServer struct {
	impl EmbeddingProvider
}

func (s *embeddingRPCServer) Name(args interface{}, resp *string) error {
	*resp = s.impl.Name()
	return nil
}

func (s *embeddingRPCServer) Embed(args *EmbedArgs, resp *EmbedReply) error {
	embeddings, err := s.impl.Embed(args.Texts)
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	resp.Embeddings = embeddings
	return nil
}

func (s *embeddingRPCServer) Dimensions(args interface{}, resp *int) error {
	*resp = s.impl.Dimensions()
	return nil
}

func (s *embeddingRPCServer) MaxBatchSize(args interface{}, resp *int) error {
	*resp = s.impl.MaxBatchSize()
	return nil
}

func (s *embeddingRPCServer) Warmup(args interface{}, resp *string) error {
	if err := s.impl.Warmup(); err != nil {
		*resp = err.Error()
	}
	return nil
}

func (s *embeddingRPCServer) Close(args interface{}, resp *string) error {
	if err := s.impl.Close(); err != nil {
		*resp = err.Error()
	}
	return nil
}
